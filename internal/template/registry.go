package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrUnknownTemplate indicates the requested template name is not registered.
var ErrUnknownTemplate = errors.New("unknown chat template")

// ErrUnknownSeparatorStyle indicates a template file named a separator style
// this gateway does not implement.
var ErrUnknownSeparatorStyle = errors.New("unknown separator style")

// Registry maintains named conversation templates. Builtins are registered
// at construction and can be overridden by template files.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Conversation
}

// NewRegistry constructs a registry seeded with the builtin templates.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Conversation)}
	for _, conv := range builtinTemplates() {
		r.byName[conv.Name] = conv
	}
	return r
}

// Register adds a template, replacing any existing one with the same name
// when override is set.
func (r *Registry) Register(conv Conversation, override bool) error {
	if strings.TrimSpace(conv.Name) == "" {
		return errors.New("template name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[conv.Name]; exists && !override {
		return fmt.Errorf("template %q already registered", conv.Name)
	}
	r.byName[conv.Name] = conv
	return nil
}

// Get returns the template registered under name.
func (r *Registry) Get(name string) (Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conv, ok := r.byName[name]
	if !ok {
		return Conversation{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, name)
	}
	return conv, nil
}

// Exists reports whether name is a registered template.
func (r *Registry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

type templateFile struct {
	Name          string          `json:"name"`
	System        string          `json:"system"`
	SystemMessage string          `json:"system_message"`
	User          string          `json:"user"`
	Assistant     string          `json:"assistant"`
	SepStyle      string          `json:"sep_style"`
	Sep           string          `json:"sep"`
	Sep2          string          `json:"sep2"`
	StopStr       json.RawMessage `json:"stop_str"`
}

// LoadFile registers a template from a JSON file, overriding any builtin of
// the same name, and returns the registered name.
func (r *Registry) LoadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read chat template file %q: %w", path, err)
	}

	var file templateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return "", fmt.Errorf("parse chat template file %q: %w", path, err)
	}

	sepStyle, err := ParseSeparatorStyle(file.SepStyle)
	if err != nil {
		return "", err
	}

	stop, err := parseStopStr(file.StopStr)
	if err != nil {
		return "", fmt.Errorf("chat template file %q: %w", path, err)
	}

	sep := file.Sep
	if sep == "" {
		sep = "\n"
	}

	conv := Conversation{
		Name:           file.Name,
		SystemTemplate: file.System + "\n{system_message}",
		SystemMessage:  file.SystemMessage,
		Roles:          [2]string{file.User, file.Assistant},
		SepStyle:       sepStyle,
		Sep:            sep,
		Sep2:           file.Sep2,
		StopStr:        stop,
	}

	if err := r.Register(conv, true); err != nil {
		return "", err
	}
	return conv.Name, nil
}

func parseStopStr(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}

	var multi []string
	if err := json.Unmarshal(raw, &multi); err == nil {
		return multi, nil
	}
	return nil, errors.New("stop_str must be a string or a list of strings")
}

func builtinTemplates() []Conversation {
	return []Conversation{
		{
			Name:           "chatml",
			SystemTemplate: "{system_message}",
			Roles:          [2]string{"user", "assistant"},
			SepStyle:       SepChatML,
			Sep:            "\n",
			StopStr:        []string{"<|im_end|>"},
		},
		{
			Name:           "vicuna_v1.1",
			SystemTemplate: "{system_message}",
			SystemMessage: "A chat between a curious user and an artificial intelligence assistant. " +
				"The assistant gives helpful, detailed, and polite answers to the user's questions.",
			Roles:    [2]string{"USER", "ASSISTANT"},
			SepStyle: SepAddColonTwo,
			Sep:      " ",
			Sep2:     "</s>",
		},
	}
}
