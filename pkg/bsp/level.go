package bsp

import (
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/encoding"
	"github.com/Faultbox/srcforge/pkg/keyvalues"
	"github.com/Faultbox/srcforge/pkg/math"
)

// Face is one renderable level polygon. Its vertices are the NumEdges entries
// of the level's Positions, Normals and UVs starting at FirstVertex.
type Face struct {
	Index       int // index in the faces lump
	FirstVertex int
	NumEdges    int
	Material    string
	TexInfo     int
	Flags       SurfaceFlags
	Disp        int // index into Level.Displacements, -1 for none
	Entity      int // owning entity, 0 for the world
	Model       int
	Plane       int
	Normal      math.Vec3
	Center      math.Vec3 // model space
	Area        float32
}

// Cluster is a group of same-material faces of one entity.
type Cluster struct {
	Material string
	Entity   int
	Origin   math.Vec3 // entity origin applied to every face
	Angles   math.Vec3 // entity angles in degrees (pitch yaw roll)
	Faces    []int     // indices into Level.Faces
}

// Level is a decoded compiled level.
type Level struct {
	Header        *Header
	Entities      []keyvalues.Entity
	Planes        []Plane
	TexInfo       []TexInfo
	TexData       []TexData
	Models        []Model
	Positions     []math.Vec3
	Normals       []math.Vec3
	UVs           []math.Vec2
	Faces         []Face
	Displacements []Displacement
	Brushes       []BrushSolid
	Clusters      []Cluster
	StaticProps   []StaticProp
	PropModels    []string
}

// FaceVertices returns the vertex range of a face.
func (lv *Level) FaceVertices(f *Face) (pos []math.Vec3, nrm []math.Vec3, uv []math.Vec2) {
	end := f.FirstVertex + f.NumEdges
	return lv.Positions[f.FirstVertex:end], lv.Normals[f.FirstVertex:end], lv.UVs[f.FirstVertex:end]
}

// materialOf returns the texture name of a texinfo, or "" when it has none.
func (lv *Level) materialOf(texInfo int) string {
	if texInfo < 0 || texInfo >= len(lv.TexInfo) {
		return ""
	}
	td := lv.TexInfo[texInfo].TexData
	if td < 0 || td >= len(lv.TexData) {
		return ""
	}
	return lv.TexData[td].Name
}

// Materials returns the distinct material names of rendered faces in first-use order.
func (lv *Level) Materials() []string {
	seen := make(map[string]bool)
	var out []string
	for i := range lv.Faces {
		m := lv.Faces[i].Material
		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}
	return out
}

// Decode decodes a compiled level. A bad header is fatal; missing or malformed
// lumps leave their collections empty.
func Decode(data []byte, opts ...Option) (*Level, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	log := o.Logger

	hdr, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}

	var l lumps
	for _, t := range decodeOrder {
		raw, err := hdr.LumpData(data, t)
		if err != nil {
			if errors.Is(err, ErrMissingLump) {
				log.Debug("lump absent", zap.Stringer("lump", t))
			} else {
				log.Warn("skipping lump", zap.Stringer("lump", t), zap.Error(err))
			}
			continue
		}
		if err := lumpDecoders[t](&l, raw); err != nil {
			log.Warn("malformed lump", zap.Stringer("lump", t), zap.Error(err))
		}
	}

	lv := &Level{Header: hdr}
	d := &decoder{lumps: &l, data: data, level: lv, opts: o, log: log}
	d.decodeTables()
	d.decodeEntities()
	d.decodeFaces()
	d.assignEntities()
	d.cluster()
	if o.Brushes {
		d.decodeBrushes()
	}
	if o.StaticProps {
		d.decodeStaticProps()
	}

	log.Debug("decoded level",
		zap.Int32("version", hdr.Version),
		zap.Int("faces", len(lv.Faces)),
		zap.Int("displacements", len(lv.Displacements)),
		zap.Int("clusters", len(lv.Clusters)),
		zap.Int("brushes", len(lv.Brushes)),
		zap.Int("static_props", len(lv.StaticProps)))

	return lv, nil
}

type decoder struct {
	*lumps
	data  []byte
	level *Level
	opts  Options
	log   *zap.Logger

	verts []DispVert
}

func (d *decoder) decodeTables() {
	lv := d.level
	lv.Planes = make([]Plane, len(d.planes))
	for i, p := range d.planes {
		lv.Planes[i] = Plane{Normal: math.V3(p.Normal), Dist: p.Dist}
	}

	lv.TexData = make([]TexData, len(d.texData))
	for i, td := range d.texData {
		lv.TexData[i] = TexData{
			Name:         d.textureName(int(td.NameID)),
			Width:        int(td.Width),
			Height:       int(td.Height),
			Reflectivity: math.V3(td.Reflectivity),
		}
	}

	lv.TexInfo = make([]TexInfo, len(d.texInfo))
	for i, ti := range d.texInfo {
		lv.TexInfo[i] = TexInfo{
			TextureVecs: ti.TextureVecs,
			Flags:       SurfaceFlags(ti.Flags),
			TexData:     int(ti.TexData),
		}
	}

	lv.Models = make([]Model, len(d.models))
	for i, m := range d.models {
		lv.Models[i] = Model{
			Mins:      math.V3(m.Mins),
			Maxs:      math.V3(m.Maxs),
			Origin:    math.V3(m.Origin),
			FirstFace: int(m.FirstFace),
			NumFaces:  int(m.NumFaces),
		}
	}
}

// textureName resolves a texdata string table id.
func (d *decoder) textureName(id int) string {
	if id < 0 || id >= len(d.stringTable) {
		return ""
	}
	off := int(d.stringTable[id])
	if off < 0 || off >= len(d.stringData) {
		return ""
	}
	return encoding.FixedStringToUTF8(d.stringData[off:])
}

func (d *decoder) decodeEntities() {
	if len(d.entities) == 0 {
		return
	}
	ents, err := keyvalues.ParseEntities(d.entities)
	if err != nil {
		d.log.Warn("malformed entity lump", zap.Error(err))
		return
	}
	d.level.Entities = ents
}

// assignEntities gives the faces of every brush entity model to that entity.
func (d *decoder) assignEntities() {
	lv := d.level
	if len(lv.Models) == 0 {
		return
	}

	owner := make(map[int]int) // model -> entity
	for ei := range lv.Entities {
		e := &lv.Entities[ei]
		ref, ok := e.Property("model")
		if !ok || len(ref) < 2 || ref[0] != '*' {
			continue
		}
		m, err := strconv.Atoi(ref[1:])
		if err != nil || m <= 0 || m >= len(lv.Models) {
			continue
		}
		owner[m] = ei
	}

	faceModel := make(map[int]int) // lump face index -> model
	for mi, m := range lv.Models {
		for f := m.FirstFace; f < m.FirstFace+m.NumFaces; f++ {
			faceModel[f] = mi
		}
	}
	for i := range lv.Faces {
		f := &lv.Faces[i]
		f.Model = faceModel[f.Index]
		if ei, ok := owner[f.Model]; ok {
			f.Entity = ei
		}
	}
}

// EntityTransform returns the origin and angles applied to an entity's faces.
func (lv *Level) EntityTransform(entity int) (origin, angles math.Vec3) {
	if entity <= 0 || entity >= len(lv.Entities) {
		return math.Vec3{}, math.Vec3{}
	}
	e := &lv.Entities[entity]
	origin, _ = e.Vec3("origin")
	angles, _ = e.Vec3("angles")
	return origin, angles
}
