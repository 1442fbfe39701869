// Package jobconfig loads notification job files.
//
// Job files are YAML (JSON is accepted as a YAML subset). Keys follow the
// portal's historical job layout, so flags and ports may arrive as quoted
// strings ("true", "587").
package jobconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/kursadbilgin/notify-dispatch/internal/domain"
	"gopkg.in/yaml.v3"
)

const defaultSMTPPort = 25

// Defaults are applied to every job field the file leaves empty.
type Defaults struct {
	Alert string
}

type fileJob struct {
	Name            string            `yaml:"name"`
	Transport       string            `yaml:"transport"`
	Host            string            `yaml:"host"`
	Port            flexInt           `yaml:"port"`
	TLS             flexBool          `yaml:"tls"`
	SSL             flexBool          `yaml:"ssl"`
	Username        string            `yaml:"username"`
	Password        string            `yaml:"password"`
	PasswordEnv     string            `yaml:"passwordEnv"`
	ResendAPIKey    string            `yaml:"resendApiKey"`
	ResendAPIKeyEnv string            `yaml:"resendApiKeyEnv"`
	WebhookURL      string            `yaml:"webhookUrl"`
	From            string            `yaml:"from"`
	To              string            `yaml:"to"`
	Subject         string            `yaml:"subject"`
	Body            string            `yaml:"body"`
	BodyFormat      string            `yaml:"bodyFormat"`
	Vars            []string          `yaml:"vars"`
	Mapping         map[string]string `yaml:"mapping"`
	TestMode        flexBool          `yaml:"testmode"`
	Redirect        string            `yaml:"redirect"`
	Alert           *string           `yaml:"alert"`
}

// flexBool accepts YAML booleans as well as quoted "true"/"false" strings.
type flexBool bool

func (b *flexBool) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a boolean", value.Line)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*b = false
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid boolean %q", value.Line, value.Value)
	}
	*b = flexBool(parsed)
	return nil
}

// flexInt accepts YAML integers as well as quoted numeric strings.
type flexInt int

func (i *flexInt) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected an integer", value.Line)
	}
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		*i = 0
		return nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("line %d: invalid integer %q", value.Line, value.Value)
	}
	*i = flexInt(parsed)
	return nil
}

// LoadJob reads and validates a single job file. The job name defaults to the
// file name without its extension.
func LoadJob(path string, defaults Defaults) (*domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file %s: %w", path, err)
	}

	base := filepath.Base(path)
	name := strings.TrimSuffix(base, filepath.Ext(base))

	job, err := Parse(data, name, defaults)
	if err != nil {
		return nil, fmt.Errorf("job file %s: %w", path, err)
	}
	return job, nil
}

// Parse decodes a job document, fills defaults and validates the result.
func Parse(data []byte, fallbackName string, defaults Defaults) (*domain.Job, error) {
	var raw fileJob
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	alert := defaults.Alert
	fallback := fileJob{
		Name:       fallbackName,
		Transport:  domain.TransportSMTP.String(),
		Port:       defaultSMTPPort,
		BodyFormat: domain.BodyFormatHTML.String(),
		Alert:      &alert,
	}
	if err := mergo.Merge(&raw, fallback, mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("failed to apply job defaults: %w", err)
	}

	job, err := raw.toDomain()
	if err != nil {
		return nil, err
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return job, nil
}

func (f fileJob) toDomain() (*domain.Job, error) {
	transport, err := domain.ParseTransportFromString(f.Transport)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	bodyFormat, err := domain.ParseBodyFormatFromString(f.BodyFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}

	password := f.Password
	if password == "" && f.PasswordEnv != "" {
		password = os.Getenv(f.PasswordEnv)
	}
	resendKey := f.ResendAPIKey
	if resendKey == "" && f.ResendAPIKeyEnv != "" {
		resendKey = os.Getenv(f.ResendAPIKeyEnv)
	}

	mapping := make(map[string]string, len(f.Mapping))
	for token, field := range f.Mapping {
		mapping[token] = field
	}

	vars := append([]string(nil), f.Vars...)
	if len(vars) == 0 {
		vars = defaultVars(mapping)
	}

	alert := ""
	if f.Alert != nil {
		alert = strings.TrimSpace(*f.Alert)
	}

	return &domain.Job{
		Name:      strings.TrimSpace(f.Name),
		Transport: transport,
		SMTP: domain.SMTPSettings{
			Host:     strings.TrimSpace(f.Host),
			Port:     int(f.Port),
			TLS:      bool(f.TLS),
			SSL:      bool(f.SSL),
			Username: f.Username,
			Password: password,
		},
		ResendAPIKey: resendKey,
		WebhookURL:   strings.TrimSpace(f.WebhookURL),
		From:         f.From,
		To:           f.To,
		Subject:      f.Subject,
		Body:         f.Body,
		BodyFormat:   bodyFormat,
		Vars:         vars,
		Mapping:      mapping,
		TestMode:     bool(f.TestMode),
		Redirect:     strings.TrimSpace(f.Redirect),
		Alert:        alert,
	}, nil
}

// defaultVars orders mapped tokens longest first so that a token which is a
// prefix of another ("$title" and "$title_full") never clobbers it, then adds
// the owner tokens.
func defaultVars(mapping map[string]string) []string {
	vars := make([]string, 0, len(mapping)+2)
	for token := range mapping {
		if token == "" || domain.IsOwnerToken(token) {
			continue
		}
		vars = append(vars, token)
	}
	sort.Slice(vars, func(i, j int) bool {
		if len(vars[i]) != len(vars[j]) {
			return len(vars[i]) > len(vars[j])
		}
		return vars[i] < vars[j]
	})
	return append(vars, domain.TokenOwnerEmail, domain.TokenOwnerName)
}
