package directory

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type locationDocument struct {
	State       string    `bson:"state,omitempty"`
	District    string    `bson:"district,omitempty"`
	Village     string    `bson:"village/town,omitempty"`
	Coordinates []float64 `bson:"coordinates,omitempty"`
}

type farmerDocument struct {
	ID                string            `bson:"_id"`
	Name              string            `bson:"name"`
	PrimaryLanguage   string            `bson:"primary_language,omitempty"`
	SecondaryLanguage string            `bson:"secondary_language,omitempty"`
	Location          *locationDocument `bson:"location,omitempty"`
	FarmSizeAcres     float64           `bson:"farm_size_acres,omitempty"`
}

func (d farmerDocument) profile() Profile {
	p := Profile{
		ID:                d.ID,
		Name:              d.Name,
		PrimaryLanguage:   d.PrimaryLanguage,
		SecondaryLanguage: d.SecondaryLanguage,
		FarmSizeAcres:     d.FarmSizeAcres,
	}
	if d.Location != nil {
		p.Location = &Location{
			State:       d.Location.State,
			District:    d.Location.District,
			Village:     d.Location.Village,
			Coordinates: d.Location.Coordinates,
		}
	}
	return p
}

func documentFromProfile(p Profile) farmerDocument {
	d := farmerDocument{
		ID:                p.ID,
		Name:              p.Name,
		PrimaryLanguage:   p.PrimaryLanguage,
		SecondaryLanguage: p.SecondaryLanguage,
		FarmSizeAcres:     p.FarmSizeAcres,
	}
	if p.Location != nil {
		d.Location = &locationDocument{
			State:       p.Location.State,
			District:    p.Location.District,
			Village:     p.Location.Village,
			Coordinates: p.Location.Coordinates,
		}
	}
	return d
}

// setFields is the $set document for p. Location is set per field so
// unmodeled location keys survive.
func setFields(p Profile) bson.D {
	d := documentFromProfile(p)
	fields := bson.D{{Key: "name", Value: d.Name}}
	add := func(key string, v any, set bool) {
		if set {
			fields = append(fields, bson.E{Key: key, Value: v})
		}
	}
	add("primary_language", d.PrimaryLanguage, d.PrimaryLanguage != "")
	add("secondary_language", d.SecondaryLanguage, d.SecondaryLanguage != "")
	add("farm_size_acres", d.FarmSizeAcres, d.FarmSizeAcres != 0)
	if loc := d.Location; loc != nil {
		add("location.state", loc.State, loc.State != "")
		add("location.district", loc.District, loc.District != "")
		add("location.village/town", loc.Village, loc.Village != "")
		add("location.coordinates", loc.Coordinates, len(loc.Coordinates) > 0)
	}
	return fields
}

// Mongo reads profiles from the farmers collection, keyed by "_id" = identity.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	owned  bool
}

// ConnectMongo dials uri and verifies the deployment is reachable.
func ConnectMongo(ctx context.Context, uri, database, collection string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	m := NewMongo(client, database, collection)
	m.owned = true
	return m, nil
}

func NewMongo(client *mongo.Client, database, collection string) *Mongo {
	return &Mongo{client: client, coll: client.Database(database).Collection(collection)}
}

func (m *Mongo) Lookup(ctx context.Context, id SessionIdentity) (Profile, error) {
	var doc farmerDocument
	err := m.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id.String()}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Profile{}, ErrIdentityNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("find farmer: %w", err)
	}
	return doc.profile(), nil
}

// Upsert sets the modeled fields of each profile by id, inserting missing
// farmers. Fields the profile does not model are left as they are.
func (m *Mongo) Upsert(ctx context.Context, profiles ...Profile) (int, error) {
	n := 0
	for _, p := range profiles {
		if p.ID == "" {
			return n, fmt.Errorf("profile %q has no id", p.Name)
		}
		update := bson.D{{Key: "$set", Value: setFields(p)}}
		_, err := m.coll.UpdateOne(ctx, bson.D{{Key: "_id", Value: p.ID}}, update, options.UpdateOne().SetUpsert(true))
		if err != nil {
			return n, fmt.Errorf("upsert farmer %s: %w", p.ID, err)
		}
		n++
	}
	return n, nil
}

func (m *Mongo) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

// Close disconnects the client if ConnectMongo created it.
func (m *Mongo) Close(ctx context.Context) error {
	if m == nil || !m.owned {
		return nil
	}
	return m.client.Disconnect(ctx)
}
