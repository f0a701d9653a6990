package mdl

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// FileSystem resolves normalized asset paths to file contents.
type FileSystem interface {
	Exists(path string) bool
	Open(path string) ([]byte, error)
}

// vtxSuffixes lists strip file variants in preference order.
var vtxSuffixes = []string{".dx90.vtx", ".dx80.vtx", ".sw.vtx", ".vtx"}

// Load reads a model and its companion files through fs and assembles it.
func Load(fs FileSystem, mdlPath string, opts ...Option) (*Model, error) {
	o := buildOptions(opts)
	base := strings.TrimSuffix(mdlPath, ".mdl")

	mdlData, err := fs.Open(base + ".mdl")
	if err != nil {
		return nil, fmt.Errorf("opening mdl: %w", err)
	}
	hdr, err := ParseMDL(mdlData)
	if err != nil {
		return nil, fmt.Errorf("parsing %s.mdl: %w", base, err)
	}

	vvdData, err := fs.Open(base + ".vvd")
	if err != nil {
		return nil, fmt.Errorf("opening vvd: %w", err)
	}
	vvd, err := ParseVVD(vvdData)
	if err != nil {
		return nil, fmt.Errorf("parsing %s.vvd: %w", base, err)
	}

	vtxPath := ""
	for _, suffix := range vtxSuffixes {
		if fs.Exists(base + suffix) {
			vtxPath = base + suffix
			break
		}
	}
	if vtxPath == "" {
		return nil, fmt.Errorf("no strip file for %s", base)
	}
	vtxData, err := fs.Open(vtxPath)
	if err != nil {
		return nil, fmt.Errorf("opening vtx: %w", err)
	}
	vtx, err := ParseVTX(vtxData)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", vtxPath, err)
	}

	o.log.Debug("loaded model files",
		zap.String("model", hdr.Name),
		zap.String("vtx", vtxPath),
		zap.Int("bones", len(hdr.Bones)),
		zap.Int("vertices", len(vvd.Vertices)),
		zap.Int("fixups", len(vvd.Fixups)))

	return Assemble(hdr, vvd, vtx, opts...)
}
