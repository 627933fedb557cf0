// Package kernel models remote interactive-computing hosts: server
// descriptors, the transport used to talk to them, and a hot-reloading
// registry of configured servers.
package kernel

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Server is a connection descriptor for a remote kernel host. Supplied
// by configuration; read-only to the rest of the core.
type Server struct {
	Name  string `yaml:"name" json:"name"`
	Host  string `yaml:"host" json:"host"`
	Port  int    `yaml:"port" json:"port"`
	Token string `yaml:"token" json:"-"`
}

// Validate validates the server descriptor.
func (s Server) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Name, validation.Required),
		validation.Field(&s.Host, validation.Required),
		validation.Field(&s.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// BaseURL returns the http base URL of the server's REST API.
func (s Server) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.Host, s.Port)
}

// Spec describes one kernel available on a server.
type Spec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

// Chunk is one streamed piece of execution output.
type Chunk struct {
	Stream string `json:"stream"` // "stdout", "stderr" or "rich"
	Text   string `json:"text"`
}

// ConnStatus is the outcome of a connection probe.
type ConnStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
