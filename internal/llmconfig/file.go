package llmconfig

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vnmchuo/modelgate/internal/llmerr"
)

// File is the on-disk registry layout.
type File struct {
	Providers []ProviderSpec `yaml:"providers"`
	Routers   []RouterSpec   `yaml:"routers"`
}

// ProviderSpec is the YAML form of a ProviderConfig.
type ProviderSpec struct {
	Key                string        `yaml:"key"`
	Model              string        `yaml:"model"`
	Family             Family        `yaml:"family"`
	RequiredEnv        []string      `yaml:"required_env"`
	SupportsVision     bool          `yaml:"supports_vision"`
	AddAssistantPrefix bool          `yaml:"add_assistant_prefix"`
	MaxTokens          int           `yaml:"max_tokens"`
	Temperature        *float64      `yaml:"temperature"`
	ReasoningEffort    string        `yaml:"reasoning_effort"`
	Params             LiteralParams `yaml:"litellm_params"`
}

// DeploymentSpec is the YAML form of a Deployment.
type DeploymentSpec struct {
	Name   string        `yaml:"name"`
	Group  string        `yaml:"group"`
	Model  string        `yaml:"model"`
	Family Family        `yaml:"family"`
	RPM    int           `yaml:"rpm"`
	TPM    int           `yaml:"tpm"`
	Params LiteralParams `yaml:"litellm_params"`
}

// RouterSpec is the YAML form of a RouterConfig.
type RouterSpec struct {
	Key                string           `yaml:"key"`
	RequiredEnv        []string         `yaml:"required_env"`
	SupportsVision     bool             `yaml:"supports_vision"`
	AddAssistantPrefix bool             `yaml:"add_assistant_prefix"`
	MaxTokens          int              `yaml:"max_tokens"`
	Temperature        *float64         `yaml:"temperature"`
	ReasoningEffort    string           `yaml:"reasoning_effort"`
	MainGroup          string           `yaml:"main_model_group"`
	FallbackGroup      string           `yaml:"fallback_model_group"`
	Strategy           RoutingStrategy  `yaml:"routing_strategy"`
	NumRetries         int              `yaml:"num_retries"`
	RetryDelay         time.Duration    `yaml:"retry_delay"`
	AllowedFails       int              `yaml:"allowed_fails"`
	CooldownTime       time.Duration    `yaml:"cooldown_time"`
	Deployments        []DeploymentSpec `yaml:"model_list"`
}

// Parse decodes a registry document into configs ready for RegisterAll.
func Parse(data []byte) ([]Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, llmerr.Wrap(llmerr.KindInvalidConfig, err, "malformed llm registry file")
	}

	configs := make([]Config, 0, len(f.Providers)+len(f.Routers))
	for _, p := range f.Providers {
		configs = append(configs, ProviderConfig{
			Key:         p.Key,
			Model:       p.Model,
			Family:      p.Family,
			RequiredEnv: p.RequiredEnv,
			Params:      p.Params,
			CallDefaults: CallDefaults{
				SupportsVision:     p.SupportsVision,
				AddAssistantPrefix: p.AddAssistantPrefix,
				MaxTokens:          p.MaxTokens,
				Temperature:        p.Temperature,
				ReasoningEffort:    p.ReasoningEffort,
			},
		})
	}
	for _, r := range f.Routers {
		deployments := make([]Deployment, 0, len(r.Deployments))
		for _, d := range r.Deployments {
			deployments = append(deployments, Deployment{
				Name:   d.Name,
				Group:  d.Group,
				Model:  d.Model,
				Family: d.Family,
				Params: d.Params,
				RPM:    d.RPM,
				TPM:    d.TPM,
			})
		}
		configs = append(configs, RouterConfig{
			Key:           r.Key,
			RequiredEnv:   r.RequiredEnv,
			Deployments:   deployments,
			MainGroup:     r.MainGroup,
			FallbackGroup: r.FallbackGroup,
			Strategy:      r.Strategy,
			NumRetries:    r.NumRetries,
			RetryDelay:    r.RetryDelay,
			AllowedFails:  r.AllowedFails,
			CooldownTime:  r.CooldownTime,
			CallDefaults: CallDefaults{
				SupportsVision:     r.SupportsVision,
				AddAssistantPrefix: r.AddAssistantPrefix,
				MaxTokens:          r.MaxTokens,
				Temperature:        r.Temperature,
				ReasoningEffort:    r.ReasoningEffort,
			},
		})
	}
	return configs, nil
}

// LoadFile parses the registry file at path and registers every entry. Invalid
// entries are reported together; valid ones are still registered.
func LoadFile(reg *Registry, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read llm registry file %s", path)
	}
	configs, err := Parse(data)
	if err != nil {
		return err
	}
	return reg.RegisterAll(configs...)
}
