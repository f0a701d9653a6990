package keyvalues

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/Faultbox/srcforge/pkg/math"
)

// Entity is one block of the entity lump. Keys may repeat (entity outputs).
type Entity struct {
	Pairs []Pair
}

// Pair is one key/value entry of an entity.
type Pair struct {
	Key   string
	Value string
}

// Property returns the first value for key.
func (e *Entity) Property(key string) (string, bool) {
	for _, p := range e.Pairs {
		if strings.EqualFold(p.Key, key) {
			return p.Value, true
		}
	}
	return "", false
}

// ClassName returns the entity's classname.
func (e *Entity) ClassName() string {
	v, _ := e.Property("classname")
	return v
}

// Vec3 parses a "x y z" property. Missing or malformed values return false.
func (e *Entity) Vec3(key string) (math.Vec3, bool) {
	v, ok := e.Property(key)
	if !ok {
		return math.Vec3{}, false
	}
	return ParseVec3(v)
}

// ParseVec3 parses three space separated floats.
func ParseVec3(s string) (math.Vec3, bool) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return math.Vec3{}, false
	}
	var out [3]float32
	for i := 0; i < 3; i++ {
		f, err := strconv.ParseFloat(fields[i], 32)
		if err != nil {
			return math.Vec3{}, false
		}
		out[i] = float32(f)
	}
	return math.V3(out), true
}

// ParseEntities parses the text of an entity lump. Trailing NUL bytes are ignored.
func ParseEntities(data []byte) ([]Entity, error) {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	root, err := Parse(data)
	if err != nil {
		return nil, err
	}
	var out []Entity
	for _, block := range root.Children {
		if !block.IsBlock {
			continue
		}
		e := Entity{Pairs: make([]Pair, 0, len(block.Children))}
		for _, c := range block.Children {
			if !c.IsBlock {
				e.Pairs = append(e.Pairs, Pair{Key: c.Key, Value: c.Value})
			}
		}
		out = append(out, e)
	}
	return out, nil
}
