package casing

import (
	"slices"
	"testing"
)

func TestWords(t *testing.T) {
	table := map[string][]string{
		"Port":                  {"port"},
		"HTTPPort":              {"http", "port"},
		"UserID":                {"user", "id"},
		"Test2Test":             {"test2", "test"},
		"Redis.URL":             {"redis", "url"},
		"Redis.TLSCert":         {"redis", "tls", "cert"},
		"Log.Level":             {"log", "level"},
		"EnableSSLMode":         {"enable", "ssl", "mode"},
		"":                      nil,
		"Postgres.MaxIdleConns": {"postgres", "max", "idle", "conns"},
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := Words(in); !slices.Equal(got, want) {
				t.Errorf("wanted %v, got %v", want, got)
			}
		})
	}
}

func TestSnake(t *testing.T) {
	table := map[string]string{
		"Port":                  "port",
		"Host":                  "host",
		"HTTPPort":              "http_port",
		"UserID":                "user_id",
		"Test2Test":             "test2_test",
		"EnableSSLMode":         "enable_ssl_mode",
		"DB":                    "db",
		"Redis.Password":        "redis_password",
		"Log.Level":             "log_level",
		"First.SecondACR.Third": "first_second_acr_third",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := ToSnake(in); want != got {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}

func TestScreamingSnake(t *testing.T) {
	table := map[string]string{
		"Port":                  "PORT",
		"HTTPPort":              "HTTP_PORT",
		"UserID":                "USER_ID",
		"DB":                    "DB",
		"Redis.URL":             "REDIS_URL",
		"Postgres.URL":          "POSTGRES_URL",
		"First.SecondACR.Third": "FIRST_SECOND_ACR_THIRD",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := ToScreamingSnake(in); want != got {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}

func TestKebab(t *testing.T) {
	table := map[string]string{
		"Port":                  "port",
		"HTTPPort":              "http-port",
		"UserID":                "user-id",
		"Test2Test":             "test2-test",
		"Redis.Prefix":          "redis-prefix",
		"Log.Format":            "log-format",
		"First.SecondACR.Third": "first-second-acr-third",
	}

	for in, want := range table {
		t.Run(in, func(t *testing.T) {
			if got := ToKebab(in); want != got {
				t.Errorf("wanted %s, got %s", want, got)
			}
		})
	}
}
