// Package config loads and validates the YAML configuration described in
// spec §6: logger settings, worker count, listening addresses, and the
// configured communities/users the USM pipeline authenticates against.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/snmpworks/trapd/internal/message"
	"github.com/snmpworks/trapd/internal/usm"
)

// EngineID decodes either a "0x..."-prefixed hex string or a raw UTF-8
// string into its byte value, matching the original settings loader's
// deserialize_engineid.
type EngineID []byte

func (e *EngineID) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hex.DecodeString(s[2:])
		if err != nil {
			return fmt.Errorf("engine_id: invalid hex: %w", err)
		}
		*e = b
		return nil
	}
	*e = []byte(s)
	return nil
}

// Community is an allowed v1/v2c community string.
type Community struct {
	Name string `yaml:"name"`
}

// User mirrors spec §3's "configured user".
type User struct {
	Username             string   `yaml:"username"`
	NoAuth               bool     `yaml:"no_auth,omitempty"`
	RequirePrivacy       bool     `yaml:"require_privacy,omitempty"`
	EngineID             EngineID `yaml:"engine_id,omitempty"`
	AuthType             string   `yaml:"auth_type,omitempty"`
	AuthPassphrase       string   `yaml:"auth_passphrase,omitempty"`
	PrivacyProtocol      string   `yaml:"privacy_protocol,omitempty"`
	PrivacyPassphrase    string   `yaml:"privacy_passphrase,omitempty"`
	SkipTimelinessChecks bool     `yaml:"skip_timeliness_checks,omitempty"`
}

// Auth is the authentication/authorization section.
type Auth struct {
	Enable     bool        `yaml:"enable"`
	Community  []Community `yaml:"community,omitempty"`
	User       []User      `yaml:"user,omitempty"`
}

// Snmptrapd holds the receiver-specific settings.
type Snmptrapd struct {
	Listening []string `yaml:"listening,omitempty"`
	Auth      Auth     `yaml:"auth"`
}

// Logger configures the structured logger (internal/snmplog).
type Logger struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// Settings is the top-level, immutable-after-load configuration tree.
type Settings struct {
	Logger       Logger    `yaml:"logger"`
	ParseWorkers int       `yaml:"parse_workers,omitempty"`
	Snmptrapd    Snmptrapd `yaml:"snmptrapd"`
}

func defaults() Settings {
	return Settings{
		Logger: Logger{Level: "info", Format: "console"},
		Snmptrapd: Snmptrapd{
			Listening: []string{"0.0.0.0:10162", "[::]:10162"},
		},
	}
}

// Load reads and parses the YAML file at path, applies defaults for unset
// fields, and validates the result.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	settings := defaults()
	if err := yaml.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if settings.ParseWorkers <= 0 {
		settings.ParseWorkers = runtime.NumCPU()
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &settings, nil
}

// Validate collects every field violation into a single joined error,
// matching the original loader's all-errors-at-once validation style
// (there ParseWorkers no struct-tag validator exists in the pack, so this
// is hand-written against the standard library's errors.Join).
func (s *Settings) Validate() error {
	var errs []error

	switch strings.ToLower(s.Logger.Level) {
	case "error", "warn", "warning", "info", "debug", "trace", "off":
	default:
		errs = append(errs, fmt.Errorf("logger.level: invalid value %q", s.Logger.Level))
	}
	switch strings.ToLower(s.Logger.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format: invalid value %q", s.Logger.Format))
	}
	if s.ParseWorkers <= 0 {
		errs = append(errs, errors.New("parse_workers: must be positive"))
	}
	if len(s.Snmptrapd.Listening) == 0 {
		errs = append(errs, errors.New("snmptrapd.listening: must not be empty"))
	}
	for i, c := range s.Snmptrapd.Auth.Community {
		if len(c.Name) < 1 || len(c.Name) > 32 {
			errs = append(errs, fmt.Errorf("snmptrapd.auth.community[%d]: name must be 1-32 bytes", i))
		}
	}
	for i, u := range s.Snmptrapd.Auth.User {
		if err := u.validate(); err != nil {
			errs = append(errs, fmt.Errorf("snmptrapd.auth.user[%d] (%s): %w", i, u.Username, err))
		}
	}

	return errors.Join(errs...)
}

func (u User) validate() error {
	if len(u.Username) < 1 || len(u.Username) > 32 {
		return errors.New("username must be 1-32 bytes")
	}
	if len(u.EngineID) != 0 && (len(u.EngineID) < 5 || len(u.EngineID) > 32) {
		return errors.New("engine_id must be 5-32 bytes")
	}
	if !u.NoAuth {
		if u.AuthType == "" {
			return errors.New("auth_type required unless no_auth")
		}
		if len(u.AuthPassphrase) < 8 {
			return errors.New("auth_passphrase must be at least 8 bytes")
		}
		if _, err := parseAuthType(u.AuthType); err != nil {
			return err
		}
	}
	if u.RequirePrivacy {
		if u.PrivacyProtocol == "" {
			return errors.New("privacy_protocol required when require_privacy is set")
		}
		if len(u.PrivacyPassphrase) < 8 {
			return errors.New("privacy_passphrase must be at least 8 bytes")
		}
		if _, err := parsePrivProtocol(u.PrivacyProtocol); err != nil {
			return err
		}
	}
	return nil
}

func parseAuthType(s string) (usm.AuthProtocol, error) {
	switch strings.ToLower(s) {
	case "md5":
		return usm.MD5, nil
	case "sha", "sha1", "sha-1":
		return usm.SHA1, nil
	case "sha224", "sha-224":
		return usm.SHA224, nil
	case "sha256", "sha-256":
		return usm.SHA256, nil
	case "sha384", "sha-384":
		return usm.SHA384, nil
	case "sha512", "sha-512":
		return usm.SHA512, nil
	default:
		return 0, fmt.Errorf("auth_type: unknown value %q", s)
	}
}

func parsePrivProtocol(s string) (usm.PrivProtocol, error) {
	switch strings.ToLower(s) {
	case "des":
		return usm.DES, nil
	case "3des", "tdes", "des3":
		return usm.TDES, nil
	case "aes", "aes128", "aes-128":
		return usm.AES128, nil
	case "aes192", "aes-192":
		return usm.AES192, nil
	case "aes256", "aes-256":
		return usm.AES256, nil
	case "aes192c", "aes-192c":
		return usm.AES192C, nil
	case "aes256c", "aes-256c":
		return usm.AES256C, nil
	default:
		return 0, fmt.Errorf("privacy_protocol: unknown value %q", s)
	}
}

// ToMessageUser converts a validated config.User into the message.User the
// core pipeline consumes.
func (u User) ToMessageUser() message.User {
	var authType usm.AuthProtocol
	if u.AuthType != "" {
		authType, _ = parseAuthType(u.AuthType)
	}
	var privProto usm.PrivProtocol
	if u.PrivacyProtocol != "" {
		privProto, _ = parsePrivProtocol(u.PrivacyProtocol)
	}
	return message.User{
		Name:                 []byte(u.Username),
		NoAuth:               u.NoAuth,
		AuthType:             authType,
		AuthPassphrase:       []byte(u.AuthPassphrase),
		RequirePrivacy:       u.RequirePrivacy,
		PrivacyProtocol:      privProto,
		PrivacyPassphrase:    []byte(u.PrivacyPassphrase),
		EngineID:             u.EngineID,
		SkipTimelinessChecks: u.SkipTimelinessChecks,
	}
}
