package dotenv

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile_MissingFileIsNoop(t *testing.T) {
	t.Parallel()
	if err := LoadFile(filepath.Join(t.TempDir(), ".env")); err != nil {
		t.Fatalf("LoadFile missing file error: %v", err)
	}
}

func TestLoadFile_LoadsValuesAndPreservesExisting(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), ".env")
	content := "" +
		"# local relay settings\n" +
		"NANDI_TEST_DOTENV_TRANSFORM_URL=http://localhost:8000\n" +
		"NANDI_TEST_DOTENV_LANGUAGES=\"Marathi,Hindi\"\n" +
		"export NANDI_TEST_DOTENV_EXPORTED=ok\n" +
		"NANDI_TEST_DOTENV_ADDR=:9090\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("NANDI_TEST_DOTENV_ADDR", ":8080")
	t.Cleanup(func() {
		for _, k := range []string{"NANDI_TEST_DOTENV_TRANSFORM_URL", "NANDI_TEST_DOTENV_LANGUAGES", "NANDI_TEST_DOTENV_EXPORTED"} {
			_ = os.Unsetenv(k)
		}
	})

	if err := LoadFile(envPath); err != nil {
		t.Fatalf("LoadFile error: %v", err)
	}

	for key, want := range map[string]string{
		"NANDI_TEST_DOTENV_TRANSFORM_URL": "http://localhost:8000",
		"NANDI_TEST_DOTENV_LANGUAGES":     "Marathi,Hindi",
		"NANDI_TEST_DOTENV_EXPORTED":      "ok",
		"NANDI_TEST_DOTENV_ADDR":          ":8080",
	} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}
