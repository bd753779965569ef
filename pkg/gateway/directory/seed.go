package directory

// SeedProfiles returns the demo farmer records loaded by cmd/nandi-seed.
func SeedProfiles() []Profile {
	return []Profile{
		{
			ID: "+919876543210", Name: "Rohan Deshmukh",
			PrimaryLanguage: "Marathi", SecondaryLanguage: "Hindi",
			Location:      &Location{State: "maharashtra", District: "pune", Village: "lonavala", Coordinates: []float64{73.8567, 18.5204}},
			FarmSizeAcres: 7.5,
		},
		{
			ID: "+919988776655", Name: "Deepa Hegde",
			PrimaryLanguage: "Kannada", SecondaryLanguage: "English",
			Location:      &Location{State: "karnataka", District: "bengaluru", Village: "devanahalli", Coordinates: []float64{77.5946, 12.9716}},
			FarmSizeAcres: 4,
		},
		{
			ID: "+919123456789", Name: "Krishna Reddy",
			PrimaryLanguage: "Telugu", SecondaryLanguage: "English",
			Location:      &Location{State: "andhra pradesh", District: "visakhapatnam", Village: "anakapalle", Coordinates: []float64{83.2185, 17.6888}},
			FarmSizeAcres: 20,
		},
		{
			ID: "+917765432109", Name: "Ishaan Sharma",
			PrimaryLanguage: "Hindi", SecondaryLanguage: "English",
			Location:      &Location{State: "rajasthan", District: "jaipur", Village: "sanganer", Coordinates: []float64{75.7873, 26.9124}},
			FarmSizeAcres: 18,
		},
		{
			ID: "+918111222333", Name: "Manish Kumar",
			PrimaryLanguage: "Bhojpuri", SecondaryLanguage: "Hindi",
			Location:      &Location{State: "bihar", District: "patna", Village: "danapur", Coordinates: []float64{85.1376, 25.5941}},
			FarmSizeAcres: 3,
		},
		{
			ID: "+917222333444", Name: "Sunita Pradhan",
			PrimaryLanguage: "Odia", SecondaryLanguage: "Hindi",
			Location:      &Location{State: "odisha", District: "bhubaneswar", Village: "jatani", Coordinates: []float64{85.8245, 20.2961}},
			FarmSizeAcres: 6,
		},
		{
			ID: "+919333444555", Name: "Bikash Gogoi",
			PrimaryLanguage: "Assamese", SecondaryLanguage: "Bengali",
			Location:      &Location{State: "assam", District: "guwahati", Village: "dispur", Coordinates: []float64{91.7362, 26.1445}},
			FarmSizeAcres: 5,
		},
		{
			ID: "+919990001111", Name: "Karthik Subramanian",
			PrimaryLanguage: "Tamil", SecondaryLanguage: "English",
			Location:      &Location{State: "tamil nadu", District: "chennai", Village: "tambaram", Coordinates: []float64{80.2707, 13.0827}},
			FarmSizeAcres: 8,
		},
		{
			ID: "+918000111222", Name: "Harleen Kaur",
			PrimaryLanguage: "Punjabi", SecondaryLanguage: "Hindi",
			Location:      &Location{State: "punjab", District: "amritsar", Village: "ajnala", Coordinates: []float64{74.8723, 31.6340}},
			FarmSizeAcres: 30,
		},
		{
			ID: "+917888999000", Name: "Aditi Banerjee",
			PrimaryLanguage: "Bengali", SecondaryLanguage: "English",
			Location:      &Location{State: "west bengal", District: "kolkata", Village: "baranagar", Coordinates: []float64{88.3639, 22.5726}},
			FarmSizeAcres: 2.2,
		},
	}
}
