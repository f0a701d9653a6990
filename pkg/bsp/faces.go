package bsp

import (
	"go.uber.org/zap"

	"github.com/Faultbox/srcforge/pkg/math"
)

// faceVertex returns the vertex index of the i-th edge of a face. A negative
// surfedge walks its edge backwards.
func (l *lumps) faceVertex(firstEdge, i int) (int, bool) {
	se := firstEdge + i
	if se < 0 || se >= len(l.surfEdges) {
		return 0, false
	}
	e := int(l.surfEdges[se])
	var v uint16
	if e >= 0 {
		if e >= len(l.edges) {
			return 0, false
		}
		v = l.edges[e].V[0]
	} else {
		if -e >= len(l.edges) {
			return 0, false
		}
		v = l.edges[-e].V[1]
	}
	if int(v) >= len(l.vertexes) {
		return 0, false
	}
	return int(v), true
}

// decodeFaces resolves every face of the faces lump into level vertices.
// Vertex normal indices are consumed in face order whether or not a face is kept.
func (d *decoder) decodeFaces() {
	lv := d.level
	cursor := 0
	var skippedTool, skippedBad, skippedDisp int

	for fi, df := range d.faces {
		numEdges := int(df.NumEdges)
		normalBase := cursor
		if numEdges > 0 {
			cursor += numEdges
		}

		if numEdges < 3 {
			skippedBad++
			continue
		}
		ti := int(df.TexInfo)
		if ti < 0 || ti >= len(lv.TexInfo) {
			skippedBad++
			continue
		}
		info := lv.TexInfo[ti]
		if info.Flags.IsTool() && !d.opts.KeepToolFaces {
			skippedTool++
			continue
		}

		var planeNormal math.Vec3
		if int(df.PlaneNum) < len(lv.Planes) {
			planeNormal = lv.Planes[df.PlaneNum].Normal
			if df.Side != 0 {
				planeNormal = planeNormal.Neg()
			}
		}

		width, height := float32(1), float32(1)
		material := ""
		if info.TexData >= 0 && info.TexData < len(lv.TexData) {
			td := lv.TexData[info.TexData]
			material = td.Name
			if td.Width > 0 {
				width = float32(td.Width)
			}
			if td.Height > 0 {
				height = float32(td.Height)
			}
		}

		w := make(Winding, 0, numEdges)
		normals := make([]math.Vec3, 0, numEdges)
		uvs := make([]math.Vec2, 0, numEdges)
		ok := true
		for k := 0; k < numEdges; k++ {
			vi, found := d.faceVertex(int(df.FirstEdge), k)
			if !found {
				ok = false
				break
			}
			pos := math.V3(d.vertexes[vi])
			w = append(w, pos)
			normals = append(normals, d.vertexNormal(normalBase+k, planeNormal))
			uvs = append(uvs, textureUV(info.TextureVecs, pos, width, height))
		}
		if !ok {
			skippedBad++
			continue
		}

		face := Face{
			Index:       fi,
			FirstVertex: len(lv.Positions),
			NumEdges:    numEdges,
			Material:    material,
			TexInfo:     ti,
			Flags:       info.Flags,
			Disp:        -1,
			Plane:       int(df.PlaneNum),
			Normal:      planeNormal,
			Center:      w.Center(),
			Area:        w.Area(),
		}

		if df.DispInfo >= 0 {
			disp, err := d.tessellate(len(lv.Faces), int(df.DispInfo), w, uvs, planeNormal)
			if err != nil {
				d.log.Debug("skipping displacement", zap.Int("face", fi), zap.Error(err))
				skippedDisp++
				continue
			}
			face.Disp = len(lv.Displacements)
			lv.Displacements = append(lv.Displacements, *disp)
		}

		lv.Positions = append(lv.Positions, w...)
		lv.Normals = append(lv.Normals, normals...)
		lv.UVs = append(lv.UVs, uvs...)
		lv.Faces = append(lv.Faces, face)
	}

	if skippedTool+skippedBad+skippedDisp > 0 {
		d.log.Debug("skipped faces",
			zap.Int("tool", skippedTool),
			zap.Int("degenerate", skippedBad),
			zap.Int("displacement", skippedDisp))
	}
}

// vertexNormal returns the smoothed normal at a normal-index slot, or fallback.
func (d *decoder) vertexNormal(slot int, fallback math.Vec3) math.Vec3 {
	if slot < 0 || slot >= len(d.normalIndices) {
		return fallback
	}
	ni := int(d.normalIndices[slot])
	if ni >= len(d.vertNormals) {
		return fallback
	}
	n := math.V3(d.vertNormals[ni])
	if n.IsZero() {
		return fallback
	}
	return n
}

// textureUV projects pos through the texinfo texture vectors.
func textureUV(vecs [2][4]float32, pos math.Vec3, width, height float32) math.Vec2 {
	s := pos.X*vecs[0][0] + pos.Y*vecs[0][1] + pos.Z*vecs[0][2] + vecs[0][3]
	t := pos.X*vecs[1][0] + pos.Y*vecs[1][1] + pos.Z*vecs[1][2] + vecs[1][3]
	return math.Vec2{X: s / width, Y: t / height}
}

// tessellate builds the displacement of the face that will be stored at Level.Faces[face].
func (d *decoder) tessellate(face, dispIndex int, corners Winding, uvs []math.Vec2, normal math.Vec3) (*Displacement, error) {
	if dispIndex >= len(d.dispInfo) {
		return nil, ErrDispVertices
	}
	di := d.dispInfo[dispIndex]
	info := DispInfo{
		StartPosition: math.V3(di.StartPosition),
		DispVertStart: int(di.DispVertStart),
		Power:         int(di.Power),
		MapFace:       int(di.MapFace),
		Contents:      di.Contents,
	}
	if d.verts == nil {
		d.verts = make([]DispVert, len(d.dispVerts))
		for i, v := range d.dispVerts {
			d.verts[i] = DispVert{Vec: math.V3(v.Vec), Dist: v.Dist, Alpha: v.Alpha}
		}
	}
	disp, err := Tessellate(corners, uvs, normal, info, d.verts)
	if err != nil {
		return nil, err
	}
	disp.Face = face
	return disp, nil
}
