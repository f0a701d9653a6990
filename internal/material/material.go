// Package material answers material-definition queries (VMT files) for the
// scene builder.
package material

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/internal/logger"
	"github.com/Faultbox/srcforge/pkg/keyvalues"
)

// ErrPatchDepth is returned when patch materials include each other too deeply.
var ErrPatchDepth = errors.New("material patch chain too deep")

// ErrorShader is the shader name of the placeholder for missing materials.
const ErrorShader = "error"

const maxPatchDepth = 8

// Material is the subset of a VMT the exporter needs.
type Material struct {
	Name         string // normalized name without "materials/" and ".vmt"
	Shader       string
	BaseTexture  string // texture path, "materials/<name>.vtf"
	BumpMap      string
	EnvMap       string
	SurfaceProp  string
	Translucent  bool
	AlphaTest    bool
	AlphaTestRef float32
	NoCull       bool
	Color        [3]float32
	Alpha        float32
	Missing      bool
}

// Source loads and caches materials.
type Source struct {
	fs    assets.FileSystem
	log   *zap.Logger
	mu    sync.Mutex
	cache map[string]*Material
}

// NewSource creates a material source reading through fs.
func NewSource(fs assets.FileSystem) *Source {
	return &Source{
		fs:    fs,
		log:   logger.Named("material"),
		cache: make(map[string]*Material),
	}
}

// Name normalizes a material reference: "Materials\Brick\Wall.vmt" and
// "BRICK/WALL" both give "brick/wall".
func Name(ref string) string {
	n := assets.NormalizePath(ref)
	n = strings.TrimPrefix(n, "materials/")
	return strings.TrimSuffix(n, ".vmt")
}

// Path returns the archive path of a material name.
func Path(name string) string {
	return "materials/" + Name(name) + ".vmt"
}

// TexturePath returns the archive path of a texture reference.
func TexturePath(ref string) string {
	n := assets.NormalizePath(ref)
	n = strings.TrimPrefix(n, "materials/")
	return "materials/" + strings.TrimSuffix(n, ".vtf") + ".vtf"
}

// Lookup returns the material for ref. Missing or broken materials return
// the error material; they are never nil.
func (s *Source) Lookup(ref string) *Material {
	name := Name(ref)

	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.cache[name]; ok {
		return m
	}

	m, err := s.load(name)
	if err != nil {
		s.log.Warn("using error material", zap.String("material", name), zap.Error(err))
		m = errorMaterial(name)
	}
	s.cache[name] = m
	return m
}

func errorMaterial(name string) *Material {
	return &Material{
		Name:    name,
		Shader:  ErrorShader,
		Color:   [3]float32{1, 0, 1},
		Alpha:   1,
		Missing: true,
	}
}

// load reads a VMT, resolving patch materials.
func (s *Source) load(name string) (*Material, error) {
	params, shader, err := s.params(Path(name), 0)
	if err != nil {
		return nil, err
	}
	m := &Material{
		Name:   name,
		Shader: shader,
		Color:  [3]float32{1, 1, 1},
		Alpha:  1,
	}
	for key, v := range params {
		switch key {
		case "$basetexture":
			m.BaseTexture = TexturePath(v)
		case "$bumpmap", "$normalmap":
			m.BumpMap = TexturePath(v)
		case "$envmap":
			m.EnvMap = v
		case "$surfaceprop":
			m.SurfaceProp = strings.ToLower(v)
		case "$translucent":
			m.Translucent = parseBool(v)
		case "$alphatest":
			m.AlphaTest = parseBool(v)
		case "$alphatestreference":
			if f, err := strconv.ParseFloat(v, 32); err == nil {
				m.AlphaTestRef = float32(f)
			}
		case "$nocull":
			m.NoCull = parseBool(v)
		case "$alpha":
			if f, err := strconv.ParseFloat(v, 32); err == nil {
				m.Alpha = float32(f)
			}
		case "$color", "$color2":
			if c, ok := parseColor(v); ok {
				m.Color = c
			}
		}
	}
	if m.AlphaTest && m.AlphaTestRef == 0 {
		m.AlphaTestRef = 0.5
	}
	return m, nil
}

// params returns the lowercase parameters and shader of a VMT. Patch
// materials start from their include and apply insert/replace blocks.
func (s *Source) params(path string, depth int) (map[string]string, string, error) {
	if depth > maxPatchDepth {
		return nil, "", fmt.Errorf("%w: %s", ErrPatchDepth, path)
	}
	data, err := s.fs.Open(path)
	if err != nil {
		return nil, "", err
	}
	root, err := keyvalues.Parse(data)
	if err != nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, err)
	}
	var body *keyvalues.Node
	for _, c := range root.Children {
		if c.IsBlock {
			body = c
			break
		}
	}
	if body == nil {
		return nil, "", fmt.Errorf("parsing %s: %w", path, keyvalues.ErrUnexpectedEOF)
	}

	shader := strings.ToLower(body.Key)
	if shader != "patch" {
		return flatten(body, nil), shader, nil
	}

	include, ok := body.Get("include")
	if !ok {
		return nil, "", fmt.Errorf("patch %s has no include", path)
	}
	base, baseShader, err := s.params(assets.NormalizePath(include), depth+1)
	if err != nil {
		return nil, "", err
	}
	for _, block := range []string{"insert", "replace"} {
		if b := body.Block(block); b != nil {
			base = flatten(b, base)
		}
	}
	return base, baseShader, nil
}

// flatten copies the values of a block into dst with lowercase keys. Nested
// blocks (proxies, fallbacks) are ignored.
func flatten(n *keyvalues.Node, dst map[string]string) map[string]string {
	if dst == nil {
		dst = make(map[string]string, len(n.Children))
	}
	for _, c := range n.Children {
		if !c.IsBlock {
			dst[strings.ToLower(c.Key)] = c.Value
		}
	}
	return dst
}

func parseBool(v string) bool {
	v = strings.TrimSpace(v)
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	if f, err := strconv.ParseFloat(v, 32); err == nil {
		return f != 0
	}
	return false
}

// parseColor reads "[r g b]" (0-1) or "{r g b}" (0-255).
func parseColor(v string) ([3]float32, bool) {
	v = strings.TrimSpace(v)
	div := 1.0
	switch {
	case strings.HasPrefix(v, "{"):
		div = 255
		v = strings.Trim(v, "{}")
	case strings.HasPrefix(v, "["):
		v = strings.Trim(v, "[]")
	}
	fields := strings.Fields(v)
	if len(fields) != 3 {
		return [3]float32{}, false
	}
	var c [3]float32
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return [3]float32{}, false
		}
		c[i] = float32(x / div)
	}
	return c, true
}

// BaseTexture returns the base texture path of a material, "" when it has none.
func (s *Source) BaseTexture(ref string) string { return s.Lookup(ref).BaseTexture }

// Translucent reports whether the material blends.
func (s *Source) Translucent(ref string) bool { return s.Lookup(ref).Translucent }

// AlphaTest reports whether the material uses cutout alpha.
func (s *Source) AlphaTest(ref string) bool { return s.Lookup(ref).AlphaTest }

// EnvMap returns the environment map reference of a material.
func (s *Source) EnvMap(ref string) string { return s.Lookup(ref).EnvMap }

// SurfaceProp returns the surface property name.
func (s *Source) SurfaceProp(ref string) string { return s.Lookup(ref).SurfaceProp }

// PhysicalClass maps the surface property to a coarse class used for PBR
// defaults ("metal", "glass", ...). Unknown properties give "default".
func (s *Source) PhysicalClass(ref string) string {
	return physicalClass(s.Lookup(ref).SurfaceProp)
}

var physicalClasses = []struct {
	prefix string
	class  string
}{
	{"metal", "metal"},
	{"chainlink", "metal"},
	{"grate", "metal"},
	{"glass", "glass"},
	{"wood", "wood"},
	{"concrete", "stone"},
	{"rock", "stone"},
	{"brick", "stone"},
	{"tile", "stone"},
	{"dirt", "ground"},
	{"grass", "ground"},
	{"gravel", "ground"},
	{"sand", "ground"},
	{"mud", "ground"},
	{"snow", "ground"},
	{"water", "liquid"},
	{"slime", "liquid"},
	{"flesh", "flesh"},
	{"plastic", "plastic"},
	{"rubber", "plastic"},
	{"cardboard", "paper"},
	{"paper", "paper"},
	{"carpet", "fabric"},
	{"cloth", "fabric"},
}

func physicalClass(surfaceProp string) string {
	sp := strings.ToLower(surfaceProp)
	for _, pc := range physicalClasses {
		if strings.HasPrefix(sp, pc.prefix) {
			return pc.class
		}
	}
	return "default"
}
