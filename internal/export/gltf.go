// Package export writes scenes as binary glTF.
package export

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/qmuntal/gltf"
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/internal/assets"
	"github.com/Faultbox/srcforge/internal/logger"
	"github.com/Faultbox/srcforge/internal/scene"
)

// GLTFVersion is the asset version written to every document.
const GLTFVersion = "2.0"

// Generator is written to the asset block.
const Generator = "srcforge"

// noTarget leaves a buffer view without a binding hint.
const noTarget gltf.Target = 0

// Options controls texture handling.
type Options struct {
	EmbedTextures  bool // PNG data inside the .glb, otherwise files next to it
	MaxTextureSize int  // 0 keeps full size
}

// Exporter converts scenes into glTF documents.
type Exporter struct {
	fs   assets.FileSystem
	opts Options
	log  *zap.Logger
}

// New creates an exporter reading textures through fs.
func New(fs assets.FileSystem, opts Options) *Exporter {
	return &Exporter{fs: fs, opts: opts, log: logger.Named("export")}
}

// Result is a built document and the texture files it references when
// textures are not embedded. File keys are relative to the .glb.
type Result struct {
	Doc   *gltf.Document
	Files map[string][]byte
}

// Build converts a scene into a glTF document.
func (e *Exporter) Build(s *scene.Scene) (*Result, error) {
	b := &docBuilder{
		e:        e,
		res:      &Result{Doc: newDocument(s.Name), Files: make(map[string][]byte)},
		textures: make(map[string]int),
	}
	if err := b.build(s); err != nil {
		return nil, err
	}
	return b.res, nil
}

// Write encodes the scene as .glb to w. Texture files are dropped when
// textures are not embedded.
func (e *Exporter) Write(w io.Writer, s *scene.Scene) error {
	res, err := e.Build(s)
	if err != nil {
		return err
	}
	return encode(w, res.Doc)
}

// WriteFile writes the scene to out along with any external textures.
func (e *Exporter) WriteFile(out string, s *scene.Scene) error {
	res, err := e.Build(s)
	if err != nil {
		return err
	}

	dir := filepath.Dir(out)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := encode(&buf, res.Doc); err != nil {
		return err
	}
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return err
	}
	for name, data := range res.Files {
		full := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, data, 0644); err != nil {
			return err
		}
	}

	e.log.Info("wrote scene",
		zap.String("path", out),
		logger.Bytes("size", int64(buf.Len())),
		zap.Int("textures", len(res.Files)))
	return nil
}

func newDocument(name string) *gltf.Document {
	doc := &gltf.Document{
		Asset: gltf.Asset{
			Version:   GLTFVersion,
			Generator: Generator,
		},
		Scenes:  []*gltf.Scene{{Name: name}},
		Buffers: []*gltf.Buffer{{}},
	}
	sceneIndex := uint32(0)
	doc.Scene = &sceneIndex
	return doc
}

func encode(w io.Writer, doc *gltf.Document) error {
	enc := gltf.NewEncoder(w)
	enc.AsBinary = true
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding glb: %w", err)
	}
	return nil
}

func uint32Ptr(v int) *uint32 {
	u := uint32(v)
	return &u
}

func float32Ptr(v float32) *float32 {
	return &v
}

// docBuilder carries the per-document state of one Build.
type docBuilder struct {
	e        *Exporter
	res      *Result
	textures map[string]int // texture path to glTF texture index, -1 when unusable
}

func (b *docBuilder) build(s *scene.Scene) error {
	doc := b.res.Doc

	for i := range s.Materials {
		doc.Materials = append(doc.Materials, b.material(&s.Materials[i]))
	}
	for i := range s.Meshes {
		m, err := b.mesh(&s.Meshes[i])
		if err != nil {
			return fmt.Errorf("mesh %q: %w", s.Meshes[i].Name, err)
		}
		doc.Meshes = append(doc.Meshes, m)
	}
	for i := range s.Nodes {
		doc.Nodes = append(doc.Nodes, node(&s.Nodes[i]))
	}
	for i := range s.Skins {
		sk, err := b.skin(&s.Skins[i])
		if err != nil {
			return fmt.Errorf("skin %q: %w", s.Skins[i].Name, err)
		}
		doc.Skins = append(doc.Skins, sk)
	}
	for _, r := range s.Roots {
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, uint32(r))
	}
	return nil
}

// writeView appends data to the buffer as a new 4-byte aligned buffer view.
func (b *docBuilder) writeView(data any, target gltf.Target) (uint32, error) {
	var bb bytes.Buffer
	if err := binary.Write(&bb, binary.LittleEndian, data); err != nil {
		return 0, err
	}
	return b.appendView(bb.Bytes(), target), nil
}

func (b *docBuilder) appendView(data []byte, target gltf.Target) uint32 {
	doc := b.res.Doc
	buf := doc.Buffers[0]
	view := &gltf.BufferView{
		Buffer:     0,
		ByteOffset: buf.ByteLength,
		ByteLength: uint32(len(data)),
		Target:     target,
	}
	buf.Data = append(buf.Data, data...)
	buf.ByteLength += uint32(len(data))
	if pad := buf.ByteLength % 4; pad != 0 {
		buf.Data = append(buf.Data, make([]byte, 4-pad)...)
		buf.ByteLength += 4 - pad
	}
	doc.BufferViews = append(doc.BufferViews, view)
	return uint32(len(doc.BufferViews) - 1)
}

func (b *docBuilder) accessor(data any, count int, ct gltf.ComponentType, typ gltf.AccessorType, target gltf.Target) (uint32, error) {
	view, err := b.writeView(data, target)
	if err != nil {
		return 0, err
	}
	doc := b.res.Doc
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView:    &view,
		ComponentType: ct,
		Type:          typ,
		Count:         uint32(count),
	})
	return uint32(len(doc.Accessors) - 1), nil
}

func (b *docBuilder) mesh(m *scene.Mesh) (*gltf.Mesh, error) {
	n := len(m.Positions)
	attrs := gltf.Attribute{}

	pos, err := b.accessor(m.Positions, n, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer)
	if err != nil {
		return nil, err
	}
	lo, hi := m.Bounds()
	acc := b.res.Doc.Accessors[pos]
	acc.Min = []float32{lo[0], lo[1], lo[2]}
	acc.Max = []float32{hi[0], hi[1], hi[2]}
	attrs["POSITION"] = pos

	if len(m.Normals) == n {
		i, err := b.accessor(m.Normals, n, gltf.ComponentFloat, gltf.AccessorVec3, gltf.TargetArrayBuffer)
		if err != nil {
			return nil, err
		}
		attrs["NORMAL"] = i
	}
	if len(m.UVs) == n {
		i, err := b.accessor(m.UVs, n, gltf.ComponentFloat, gltf.AccessorVec2, gltf.TargetArrayBuffer)
		if err != nil {
			return nil, err
		}
		attrs["TEXCOORD_0"] = i
	}
	if m.Skinned() && len(m.Weights) == n {
		j, err := b.accessor(m.Joints, n, gltf.ComponentUshort, gltf.AccessorVec4, gltf.TargetArrayBuffer)
		if err != nil {
			return nil, err
		}
		w, err := b.accessor(m.Weights, n, gltf.ComponentFloat, gltf.AccessorVec4, gltf.TargetArrayBuffer)
		if err != nil {
			return nil, err
		}
		attrs["JOINTS_0"] = j
		attrs["WEIGHTS_0"] = w
	}

	idx, err := b.accessor(m.Indices, len(m.Indices), gltf.ComponentUint, gltf.AccessorScalar, gltf.TargetElementArrayBuffer)
	if err != nil {
		return nil, err
	}

	prim := &gltf.Primitive{
		Attributes: attrs,
		Indices:    &idx,
		Mode:       gltf.PrimitiveTriangles,
	}
	if m.Material >= 0 {
		prim.Material = uint32Ptr(m.Material)
	}
	return &gltf.Mesh{Name: m.Name, Primitives: []*gltf.Primitive{prim}}, nil
}

func node(n *scene.Node) *gltf.Node {
	out := &gltf.Node{
		Name:        n.Name,
		Translation: n.Translation,
		Rotation:    n.Rotation,
		Scale:       n.Scale,
	}
	if n.Mesh >= 0 {
		out.Mesh = uint32Ptr(n.Mesh)
	}
	if n.Skin >= 0 {
		out.Skin = uint32Ptr(n.Skin)
	}
	for _, c := range n.Children {
		out.Children = append(out.Children, uint32(c))
	}
	return out
}

func (b *docBuilder) skin(s *scene.Skin) (*gltf.Skin, error) {
	ibm, err := b.accessor(s.InverseBind, len(s.InverseBind), gltf.ComponentFloat, gltf.AccessorMat4, noTarget)
	if err != nil {
		return nil, err
	}
	out := &gltf.Skin{Name: s.Name, InverseBindMatrices: &ibm}
	for _, j := range s.Joints {
		out.Joints = append(out.Joints, uint32(j))
	}
	if s.Skeleton >= 0 {
		out.Skeleton = uint32Ptr(s.Skeleton)
	}
	return out, nil
}

// surface holds metallic and roughness factors per physical class.
var surface = map[string][2]float32{
	"metal":   {1, 0.4},
	"glass":   {0, 0.05},
	"liquid":  {0, 0.1},
	"plastic": {0, 0.5},
	"stone":   {0, 0.9},
	"ground":  {0, 1},
	"fabric":  {0, 1},
}

func (b *docBuilder) material(m *scene.Material) *gltf.Material {
	color := m.Color
	pbr := &gltf.PBRMetallicRoughness{
		BaseColorFactor: &color,
		MetallicFactor:  float32Ptr(0),
		RoughnessFactor: float32Ptr(0.8),
	}
	if f, ok := surface[m.PhysicalClass]; ok {
		pbr.MetallicFactor = float32Ptr(f[0])
		pbr.RoughnessFactor = float32Ptr(f[1])
	}

	out := &gltf.Material{
		Name:                 m.Name,
		PBRMetallicRoughness: pbr,
		DoubleSided:          m.DoubleSided,
	}
	switch m.AlphaMode {
	case scene.AlphaMask:
		out.AlphaMode = gltf.AlphaMask
		out.AlphaCutoff = float32Ptr(m.AlphaCutoff)
	case scene.AlphaBlend:
		out.AlphaMode = gltf.AlphaBlend
	default:
		out.AlphaMode = gltf.AlphaOpaque
	}

	if m.Texture != "" && !m.Missing {
		if tex := b.texture(m.Texture); tex >= 0 {
			pbr.BaseColorTexture = &gltf.TextureInfo{Index: uint32(tex)}
		}
	}
	return out
}

// texture returns the glTF texture index for a texture path, or -1 when it
// cannot be loaded.
func (b *docBuilder) texture(texPath string) int {
	if i, ok := b.textures[texPath]; ok {
		return i
	}
	b.textures[texPath] = -1

	img, err := LoadTexture(b.e.fs, texPath, b.e.opts.MaxTextureSize)
	if err != nil {
		b.e.log.Warn("skipping texture", zap.String("texture", texPath), zap.Error(err))
		return -1
	}
	data, err := EncodePNG(img)
	if err != nil {
		b.e.log.Warn("skipping texture", zap.String("texture", texPath), zap.Error(err))
		return -1
	}

	doc := b.res.Doc
	gimg := &gltf.Image{Name: texPath, MimeType: "image/png"}
	if b.e.opts.EmbedTextures {
		gimg.BufferView = uint32Ptr(int(b.appendView(data, noTarget)))
	} else {
		uri := TextureFileName(texPath)
		gimg.URI = uri
		b.res.Files[uri] = data
	}
	doc.Images = append(doc.Images, gimg)
	doc.Samplers = append(doc.Samplers, &gltf.Sampler{WrapS: gltf.WrapRepeat, WrapT: gltf.WrapRepeat})
	doc.Textures = append(doc.Textures, &gltf.Texture{
		Sampler: uint32Ptr(len(doc.Samplers) - 1),
		Source:  uint32Ptr(len(doc.Images) - 1),
	})

	i := len(doc.Textures) - 1
	b.textures[texPath] = i
	return i
}

// TextureFileName maps "materials/brick/wall.vtf" to "textures/brick/wall.png".
func TextureFileName(texPath string) string {
	p := strings.TrimPrefix(assets.NormalizePath(texPath), "materials/")
	return path.Join("textures", strings.TrimSuffix(p, ".vtf")+".png")
}
