package manifest

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxelatlas/internal/atlas/animation"
	"voxelatlas/internal/atlas/compose"
	"voxelatlas/internal/atlas/faces"
)

var ErrInvalid = errors.New("invalid manifest")

//go:embed blocks.schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("blocks.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

// Manifest is the parsed block list, in document order.
type Manifest struct {
	Blocks []compose.Block
	Digest string
}

type blockEntry struct {
	UniqueFaces float64   `yaml:"unique_faces"`
	Frames      yaml.Node `yaml:"frames"`
}

func Load(path string) (Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, err
	}
	m, err := Parse(raw)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return m, nil
}

func Parse(raw []byte) (Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validate(&doc); err != nil {
		return Manifest{}, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 || doc.Content[0].Kind != yaml.MappingNode {
		return Manifest{}, fmt.Errorf("%w: top level must be a mapping of block names", ErrInvalid)
	}

	root := doc.Content[0]
	out := Manifest{
		Blocks: make([]compose.Block, 0, len(root.Content)/2),
		Digest: sha256Hex(raw),
	}
	// Mapping content alternates key, value; document order decides atlas rows.
	for i := 0; i+1 < len(root.Content); i += 2 {
		id := root.Content[i].Value
		var e blockEntry
		if err := root.Content[i+1].Decode(&e); err != nil {
			return Manifest{}, fmt.Errorf("%w: block %s: %v", ErrInvalid, id, err)
		}
		spec, err := animationSpec(&e.Frames)
		if err != nil {
			return Manifest{}, fmt.Errorf("%w: block %s: %v", ErrInvalid, id, err)
		}
		out.Blocks = append(out.Blocks, compose.Block{
			ID:    id,
			Faces: faceCount(e.UniqueFaces),
			Anim:  spec,
		})
	}
	return out, nil
}

// faceCount keeps out-of-range values unsupported instead of letting them wrap.
func faceCount(v float64) faces.Count {
	if v < 0 || v > 64 || v != math.Trunc(v) {
		return faces.Count(-1)
	}
	return faces.Count(int(v))
}

func animationSpec(n *yaml.Node) (animation.Spec, error) {
	switch n.Kind {
	case 0:
		return animation.Static(), nil
	case yaml.ScalarNode:
		// Counts past the slot limit are clamped so they fail as too many
		// frames rather than as a decode error.
		var count float64
		if err := n.Decode(&count); err != nil {
			return animation.Spec{}, err
		}
		if count != math.Trunc(count) {
			return animation.Spec{}, fmt.Errorf("frames must be an integer, got %s", n.Value)
		}
		if count > animation.MaxSlots {
			count = animation.MaxSlots + 1
		}
		return animation.FixedCount(int(count)), nil
	case yaml.SequenceNode:
		var list []int
		if err := n.Decode(&list); err != nil {
			return animation.Spec{}, err
		}
		return animation.ExplicitList(list), nil
	default:
		return animation.Spec{}, fmt.Errorf("frames must be an integer or a list of integers")
	}
}

// validate checks the document against the embedded JSON schema. The YAML
// tree is converted to JSON values first so the validator sees the same types
// as a JSON manifest, with every mapping key taken as a string.
func validate(doc *yaml.Node) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	v, err := jsonValue(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func jsonValue(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return jsonValue(n.Content[0])
	case yaml.AliasNode:
		return jsonValue(n.Alias)
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := jsonValue(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			out[n.Content[i].Value] = v
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := jsonValue(c)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case yaml.ScalarNode:
		return jsonScalar(n)
	default:
		return nil, fmt.Errorf("line %d: unsupported node", n.Line)
	}
}

func jsonScalar(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, err
		}
		return b, nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err == nil {
			return json.Number(strconv.FormatInt(i, 10)), nil
		}
		var u uint64
		if err := n.Decode(&u); err != nil {
			return nil, err
		}
		return json.Number(strconv.FormatUint(u, 10)), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return nil, err
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("line %d: %s is not a number", n.Line, n.Value)
		}
		return json.Number(strconv.FormatFloat(f, 'f', -1, 64)), nil
	default:
		return n.Value, nil
	}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
