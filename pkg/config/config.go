package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"dario.cat/mergo"
	"github.com/Shopify/ejson"
	"github.com/caarlos0/env/v6"
	"github.com/ghodss/yaml"
	"github.com/joho/godotenv"
)

const EjsonKeyEnv = "EXPENSIOR_EJSON_SECRET_KEY"

var config Config
var secrets Secrets

func ReadConfig(configEnvVar, configFile, secretsFile string) error {
	// a missing .env file is the common case
	_ = godotenv.Load()

	_, err := readConfig(configEnvVar, configFile)
	if err != nil {
		return err
	}

	_, err = readSecrets(secretsFile)
	if err != nil {
		return err
	}
	return nil
}

func CurrentConfig() *Config {
	return &config
}

func CurrentSecrets() *Secrets {
	return &secrets
}

func CurrentDatabaseConfig() *DatabaseConfig {
	return &config.Database
}

func CurrentImportConfig() *ImportConfig {
	return &config.Import
}

func CurrentClassifyConfig() *ClassifyConfig {
	return &config.Classify
}

func CurrentSqlSecrets() *SqlSecrets {
	return &secrets.SQL
}

func CurrentInfluxSecrets() *InfluxSecrets {
	return &secrets.Influx
}

// Default returns the configuration used for any key the config file leaves out.
// The import defaults describe the PKO BP csv export.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Dialect:   DialectSQLite,
			Name:      "expensior",
			Path:      "./data/expensior.db",
			BatchSize: 500,
		},
		Import: ImportConfig{
			Encoding:        "latin2",
			Delimiter:       ",",
			DefaultCurrency: "PLN",
			ConflictPolicy:  "ignore",
			Columns: ColumnsConfig{
				OperationDate: "Data operacji",
				ValueDate:     "Data waluty",
				Type:          "Typ transakcji",
				Amount:        "Kwota",
				Currency:      "Waluta",
				Account:       "Unnamed: 6",
			},
			Labels: LabelsConfig{
				Title:           "Tytuł:",
				ReferenceNumber: "Numer referencyjny:",
				Location:        "Lokalizacja:",
				Address:         "Adres:",
				City:            "Miasto:",
				Country:         "Kraj:",
				From:            "OD:",
				PhoneTransfer:   "PRZELEW NA TELEFON",
			},
			CityFixes: map[string]string{
				"MOSCISKA":     "WARSZAWA",
				"PIASTOW":      "WARSZAWA",
				"PLOCHOCIN":    "WARSZAWA",
				"STARE BABICE": "WARSZAWA",
			},
		},
		Classify: ClassifyConfig{
			Schedule:   "@every 1h",
			SampleSize: 10,
		},
		Influx: InfluxConfig{
			Database:          "expensior",
			MeasurementPrefix: "expensior_",
		},
	}
}

func readConfig(envName, filename string) (*Config, error) {
	var raw []byte
	var err error

	config = Config{}

	rawEnv := os.Getenv(envName)
	if rawEnv != "" {
		fmt.Printf("Reading config from environment variable %s\n", envName)
		raw = []byte(rawEnv)
	} else {
		raw, err = os.ReadFile(filename)
		if errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Config file %s not found, using defaults\n", filename)
			raw = nil
		} else if err != nil {
			return nil, err
		}
	}

	if len(raw) > 0 {
		err = yaml.Unmarshal(raw, &config)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	err = mergo.Merge(&config, Default())
	if err != nil {
		return nil, fmt.Errorf("failed to merge config defaults: %w", err)
	}

	return &config, nil
}

func readSecrets(filename string) (*Secrets, error) {
	ejsonSecrets, ejsonErr := readEjsonSecrets(filename)

	envSecrets, envErr := readEnvSecrets()

	if ejsonErr == nil && envErr == nil {
		err := mergo.Merge(envSecrets, *ejsonSecrets)
		secrets = *envSecrets
		if err != nil {
			return nil, fmt.Errorf("Failed to merge secrets: %v", err)
		}
	} else if ejsonErr != nil && envErr == nil {
		if !errors.Is(ejsonErr, os.ErrNotExist) {
			fmt.Printf("Warning: Error to parse ejson secret. Ejson error: %v\n", ejsonErr)
		}
		secrets = *envSecrets
	} else if ejsonErr == nil && envErr != nil {
		fmt.Printf("Warning: Error to parse env secret. Env error: %v\n", envErr)
		secrets = *ejsonSecrets
	} else {
		return nil, fmt.Errorf("Failed to parse secrets. Ejson error: %v. Env error: %v", ejsonErr, envErr)
	}

	return &secrets, nil
}

func readEjsonSecrets(filename string) (*Secrets, error) {
	ejsonSecrets := Secrets{}
	ejsonKeyFile := os.Getenv(EjsonKeyEnv)
	ejsonKey := []byte{}
	var err error

	if _, err = os.Stat(filename); err != nil {
		return nil, err
	}

	if ejsonKeyFile != "" {
		ejsonKey, err = os.ReadFile(ejsonKeyFile)
		if err != nil {
			return nil, err
		}
	}
	raw, err := ejson.DecryptFile(filename, "/opt/ejson/keys", string(ejsonKey))
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(raw, &ejsonSecrets)
	return &ejsonSecrets, err
}

func readEnvSecrets() (*Secrets, error) {
	envSecrets := Secrets{}
	err := env.Parse(&envSecrets)
	return &envSecrets, err
}
