// Package nodedir resolves public identities to Lightning gateway endpoints.
// The directory is loaded from a local config file (JSON or YAML), validated
// against a schema, and never exposes credentials through its public views.
package nodedir

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// ErrConfigMissing marks an absent or malformed node directory. Fatal for
// the payment orchestrator; surfaced immediately.
var ErrConfigMissing = errors.New("nodedir: node directory config missing or malformed")

// ErrNodeNotFound marks an identity that resolves to no gateway. Fatal for
// that transaction only.
var ErrNodeNotFound = errors.New("nodedir: node not found")

// Node maps one public identity to its Lightning gateway.
type Node struct {
	ID          string `json:"id,omitempty" yaml:"id,omitempty"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Pubkey      string `json:"pubkey" yaml:"pubkey"`
	NostrPubkey string `json:"nostr_pubkey,omitempty" yaml:"nostr_pubkey,omitempty"`
	Host        string `json:"host" yaml:"host"`
	Macaroon    string `json:"macaroon" yaml:"macaroon"`
	TLSCert     string `json:"tls_cert" yaml:"tls_cert"`
}

// PublicNode is the credential-free view served to other users.
type PublicNode struct {
	NostrPubkey string `json:"nostr_pubkey"`
}

// Directory holds the loaded node set.
type Directory struct {
	nodes []Node
}

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["pubkey", "host", "macaroon", "tls_cert"],
    "properties": {
      "id": {"type": "string"},
      "name": {"type": "string"},
      "pubkey": {"type": "string", "minLength": 1},
      "nostr_pubkey": {"type": "string"},
      "host": {"type": "string", "minLength": 1},
      "macaroon": {"type": "string"},
      "tls_cert": {"type": "string"}
    }
  }
}`

var schema = jsonschema.MustCompileString("nodes.schema.json", schemaJSON)

// Load reads and validates a node directory file. The format is chosen by
// extension: .yaml/.yml parse as YAML, everything else as JSON.
func Load(path string) (*Directory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrConfigMissing, path, err)
	}

	var generic interface{}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigMissing, path, err)
		}
		// Round-trip through JSON so schema validation sees JSON-typed values.
		jsonData, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("%w: normalizing %s: %v", ErrConfigMissing, path, err)
		}
		data = jsonData
		generic = nil
	}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrConfigMissing, path, err)
	}
	if err := schema.Validate(generic); err != nil {
		return nil, fmt.Errorf("%w: validating %s: %v", ErrConfigMissing, path, err)
	}

	var nodes []Node
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: decoding %s: %v", ErrConfigMissing, path, err)
	}
	return &Directory{nodes: nodes}, nil
}

// FromNodes builds a directory from an in-memory node list.
func FromNodes(nodes []Node) (*Directory, error) {
	for i, n := range nodes {
		if n.Pubkey == "" || n.Host == "" {
			return nil, fmt.Errorf("%w: node %d missing pubkey or host", ErrConfigMissing, i)
		}
	}
	return &Directory{nodes: append([]Node(nil), nodes...)}, nil
}

// Resolve finds the node whose id, name, or pubkey matches the identity,
// case-insensitively.
func (d *Directory) Resolve(identity string) (*Node, error) {
	for i := range d.nodes {
		n := &d.nodes[i]
		if strings.EqualFold(n.ID, identity) && n.ID != "" ||
			strings.EqualFold(n.Name, identity) && n.Name != "" ||
			strings.EqualFold(n.Pubkey, identity) {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, identity)
}

// Public returns the credential-free node listing.
func (d *Directory) Public() []PublicNode {
	out := make([]PublicNode, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, PublicNode{NostrPubkey: n.NostrPubkey})
	}
	return out
}

// Len returns the number of configured nodes.
func (d *Directory) Len() int { return len(d.nodes) }
