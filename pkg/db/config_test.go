package db

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	c := DefaultConfig()
	c.Host = "db.internal"
	c.Database = "app"
	c.Username = "svc"
	c.Password = "secret"
	return c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults with connection filled in", func(c *Config) {}, false},
		{"missing host", func(c *Config) { c.Host = "" }, true},
		{"missing database", func(c *Config) { c.Database = "" }, true},
		{"missing username", func(c *Config) { c.Username = "" }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port out of range", func(c *Config) { c.Port = 70000 }, true},
		{"no open connections", func(c *Config) { c.MaxOpenConns = 0 }, true},
		{"idle exceeds open", func(c *Config) { c.MaxIdleConns = c.MaxOpenConns + 1 }, true},
		{"ssl with skip verify needs no files", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.SkipVerify = true
		}, false},
		{"ssl cert without key", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.CertFile = "/nonexistent/client.pem"
		}, true},
		{"ssl with missing ca file", func(c *Config) {
			c.SSL.Enabled = true
			c.SSL.CAFile = "/nonexistent/ca.pem"
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := validConfig()
	dsn, err := c.DSN()
	if err != nil {
		t.Fatalf("DSN() failed: %v", err)
	}

	for _, want := range []string{
		"svc:secret@tcp(db.internal:3306)/app",
		"parseTime=true",
		"collation=utf8mb4_unicode_ci",
	} {
		if !strings.Contains(dsn, want) {
			t.Errorf("DSN %q missing %q", dsn, want)
		}
	}
	if strings.Contains(dsn, "tls=") {
		t.Errorf("DSN %q carries TLS without SSL enabled", dsn)
	}
}

func TestDSNWithSkipVerify(t *testing.T) {
	c := validConfig()
	c.SSL.Enabled = true
	c.SSL.SkipVerify = true

	dsn, err := c.DSN()
	if err != nil {
		t.Fatalf("DSN() failed: %v", err)
	}
	if !strings.Contains(dsn, "tls=skip-verify") {
		t.Errorf("DSN %q missing skip-verify TLS mode", dsn)
	}
}

func TestTLSConfigNameIsStable(t *testing.T) {
	a := validConfig()
	a.SSL.CAFile = "/etc/ssl/ca.pem"
	b := validConfig()
	b.SSL.CAFile = "/etc/ssl/ca.pem"
	other := validConfig()
	other.SSL.CAFile = "/etc/ssl/other-ca.pem"

	if a.tlsConfigName() != b.tlsConfigName() {
		t.Errorf("identical SSL settings produced different names")
	}
	if a.tlsConfigName() == other.tlsConfigName() {
		t.Errorf("different SSL settings collided on %q", a.tlsConfigName())
	}
	if !strings.HasPrefix(a.tlsConfigName(), "rel4go_tls_") {
		t.Errorf("name %q missing the registration prefix", a.tlsConfigName())
	}
}

func TestParseLocation(t *testing.T) {
	if loc := parseLocation(""); loc.String() != "UTC" {
		t.Errorf("empty timezone = %v, want UTC", loc)
	}
	if loc := parseLocation("not/a/zone"); loc.String() != "UTC" {
		t.Errorf("bad timezone = %v, want UTC fallback", loc)
	}
	if loc := parseLocation("America/New_York"); loc.String() != "America/New_York" {
		t.Errorf("named timezone = %v", loc)
	}
}
