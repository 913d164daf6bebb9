package inbound

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const (
	KindJSON = "json"
	KindForm = "form"

	// RoomTypeAuto derives the room type from the sender address.
	RoomTypeAuto = "auto"
)

var ErrMalformedPayload = errors.New("inbound: malformed payload")

// ParsedMessage is what a communication service extracts from a webhook body.
type ParsedMessage struct {
	From string
	Body string
}

// CommunicationService adapts one external provider's webhook.
type CommunicationService interface {
	Name() string
	VerifyAuthorization(header string) bool
	Parse(contentType string, body []byte) (ParsedMessage, error)
	RoomType(from string) string
}

type ServiceConfig struct {
	Name         string `yaml:"name"`
	Kind         string `yaml:"kind"`
	RoomType     string `yaml:"roomType"`
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"passwordHash"`
	FromField    string `yaml:"fromField"`
	BodyField    string `yaml:"bodyField"`
}

type registryFile struct {
	Services []ServiceConfig `yaml:"services"`
}

type Registry struct {
	services map[string]CommunicationService
}

func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read services file: %w", err)
	}
	return ParseRegistry(data)
}

func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse services file: %w", err)
	}

	configs := make([]CommunicationService, 0, len(file.Services))
	for i, cfg := range file.Services {
		svc, err := newConfiguredService(cfg)
		if err != nil {
			return nil, fmt.Errorf("service %d: %w", i, err)
		}
		configs = append(configs, svc)
	}
	return NewRegistry(configs...)
}

func NewRegistry(services ...CommunicationService) (*Registry, error) {
	r := &Registry{services: make(map[string]CommunicationService, len(services))}
	for _, svc := range services {
		if _, dup := r.services[svc.Name()]; dup {
			return nil, fmt.Errorf("duplicate service %q", svc.Name())
		}
		r.services[svc.Name()] = svc
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (CommunicationService, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

func (r *Registry) Len() int {
	return len(r.services)
}

type configuredService struct {
	cfg ServiceConfig
}

func newConfiguredService(cfg ServiceConfig) (*configuredService, error) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	if cfg.Name == "" {
		return nil, errors.New("name is required")
	}
	switch cfg.Kind {
	case "":
		cfg.Kind = KindJSON
	case KindJSON, KindForm:
	default:
		return nil, fmt.Errorf("unknown kind %q", cfg.Kind)
	}
	if cfg.Username != "" && cfg.PasswordHash == "" {
		return nil, errors.New("passwordHash is required when username is set")
	}
	if cfg.RoomType == "" {
		cfg.RoomType = RoomTypeAuto
	}
	if cfg.FromField == "" {
		cfg.FromField = "from"
	}
	if cfg.BodyField == "" {
		cfg.BodyField = "body"
	}
	return &configuredService{cfg: cfg}, nil
}

func (s *configuredService) Name() string {
	return s.cfg.Name
}

// VerifyAuthorization checks an HTTP Basic header. Services without a
// username accept every request.
func (s *configuredService) VerifyAuthorization(header string) bool {
	if s.cfg.Username == "" {
		return true
	}
	const prefix = "Basic "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return false
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(header[len(prefix):]))
	if err != nil {
		return false
	}
	username, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password)) == nil
}

func (s *configuredService) Parse(contentType string, body []byte) (ParsedMessage, error) {
	var msg ParsedMessage
	var err error
	switch s.cfg.Kind {
	case KindForm:
		msg, err = s.parseForm(contentType, body)
	default:
		msg, err = s.parseJSON(body)
	}
	if err != nil {
		return ParsedMessage{}, err
	}

	msg.From = strings.TrimSpace(msg.From)
	if msg.From == "" || strings.TrimSpace(msg.Body) == "" {
		return ParsedMessage{}, fmt.Errorf("%w: sender and body are required", ErrMalformedPayload)
	}
	return msg, nil
}

func (s *configuredService) parseJSON(body []byte) (ParsedMessage, error) {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	from, _ := payload[s.cfg.FromField].(string)
	text, _ := payload[s.cfg.BodyField].(string)
	return ParsedMessage{From: from, Body: text}, nil
}

func (s *configuredService) parseForm(contentType string, body []byte) (ParsedMessage, error) {
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/x-www-form-urlencoded" {
			return ParsedMessage{}, fmt.Errorf("%w: unexpected content type %q", ErrMalformedPayload, contentType)
		}
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ParsedMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return ParsedMessage{From: values.Get(s.cfg.FromField), Body: values.Get(s.cfg.BodyField)}, nil
}

func (s *configuredService) RoomType(from string) string {
	if s.cfg.RoomType != RoomTypeAuto {
		return s.cfg.RoomType
	}
	if strings.Contains(from, "@") {
		return "mail"
	}
	return "sms"
}
