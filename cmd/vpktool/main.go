// vpktool is a CLI utility for working with Source engine VPK archives.
package main

import (
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Faultbox/srcforge/pkg/vpk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		cmdInfo(args)
	case "list", "ls":
		cmdList(args)
	case "extract", "x":
		cmdExtract(args)
	case "search", "find":
		cmdSearch(args)
	case "pack":
		cmdPack(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vpktool - Source engine VPK archive utility

Usage:
  vpktool <command> [options]

Commands:
  info <pak_dir.vpk>                    Show archive information
  list <pak_dir.vpk> [pattern]          List files (optional glob pattern)
  extract <pak_dir.vpk> <path> [output] Extract file(s) to directory
  search <pak_dir.vpk> <pattern>        Search files by name pattern
  pack <pak_dir.vpk> <directory>        Pack a directory into a new archive

Examples:
  vpktool info hl2_textures_dir.vpk
  vpktool list hl2_textures_dir.vpk "*.vtf"
  vpktool extract hl2_misc_dir.vpk "models/props_c17/*" ./output
  vpktool search hl2_misc_dir.vpk oildrum
  vpktool pack -archive-size 200000000 mymod_dir.vpk ./content`)
}

func openArchive(path string) *vpk.Archive {
	archive, err := vpk.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return archive
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vpktool info <pak_dir.vpk>")
		os.Exit(1)
	}

	archive := openArchive(args[0])
	defer archive.Close()

	files := archive.List()

	type extStat struct {
		ext   string
		count int
		size  int64
	}
	byExt := make(map[string]*extStat)
	var totalSize, preloadSize int64
	archives := make(map[uint16]bool)
	for _, f := range files {
		e, _ := archive.Stat(f)
		ext := strings.ToLower(filepath.Ext(f))
		if ext == "" {
			ext = "(no ext)"
		}
		st := byExt[ext]
		if st == nil {
			st = &extStat{ext: ext}
			byExt[ext] = st
		}
		st.count++
		st.size += e.Size()
		totalSize += e.Size()
		preloadSize += int64(len(e.Preload))
		archives[e.ArchiveIndex] = true
	}

	h := archive.Header()
	fmt.Printf("Archive:  %s\n", args[0])
	fmt.Printf("Version:  %d\n", h.Version)
	fmt.Printf("Files:    %s\n", humanize.Comma(int64(len(files))))
	fmt.Printf("Size:     %s (preload %s)\n", humanize.Bytes(uint64(totalSize)), humanize.Bytes(uint64(preloadSize)))
	fmt.Printf("Tree:     %s\n", humanize.Bytes(uint64(h.TreeSize)))
	fmt.Printf("Archives: %d\n", len(archives))
	fmt.Println()
	fmt.Println("Files by type:")

	var stats []*extStat
	for _, st := range byExt {
		stats = append(stats, st)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].count != stats[j].count {
			return stats[i].count > stats[j].count
		}
		return stats[i].ext < stats[j].ext
	})

	for _, s := range stats {
		fmt.Printf("  %-10s %8d  %s\n", s.ext, s.count, humanize.Bytes(uint64(s.size)))
	}
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N files (0 = all)")
	long := fs.Bool("l", false, "Show sizes and archive indices")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: vpktool list <pak_dir.vpk> [pattern]")
		os.Exit(1)
	}

	archive := openArchive(fs.Arg(0))
	defer archive.Close()

	pattern := ""
	if fs.NArg() > 1 {
		pattern = strings.ToLower(fs.Arg(1))
	}

	count := 0
	for _, f := range archive.List() {
		if pattern != "" && !matches(pattern, f) {
			continue
		}
		if *long {
			e, _ := archive.Stat(f)
			index := "dir"
			if e.ArchiveIndex != vpk.DirArchive {
				index = fmt.Sprintf("%03d", e.ArchiveIndex)
			}
			fmt.Printf("%10s  %s  %08x  %s\n", humanize.Bytes(uint64(e.Size())), index, e.CRC, f)
		} else {
			fmt.Println(f)
		}
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}

	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d files matched)\n", count)
	}
}

// matches reports whether a path matches a glob on its base name or full
// path, or contains the pattern as a substring.
func matches(pattern, p string) bool {
	p = strings.ToLower(p)
	if ok, _ := filepath.Match(pattern, filepath.Base(p)); ok {
		return true
	}
	if ok, _ := filepath.Match(pattern, p); ok {
		return true
	}
	return strings.Contains(p, pattern)
}

func cmdExtract(args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: vpktool extract <pak_dir.vpk> <path> [output_dir]")
		os.Exit(1)
	}

	filePath := fs.Arg(1)
	outputDir := "."
	if fs.NArg() > 2 {
		outputDir = fs.Arg(2)
	}

	archive := openArchive(fs.Arg(0))
	defer archive.Close()

	if strings.Contains(filePath, "*") {
		extractPattern(archive, strings.ToLower(filePath), outputDir)
		return
	}

	if !archive.Contains(filePath) {
		fmt.Fprintf(os.Stderr, "File not found: %s\n", filePath)
		os.Exit(1)
	}

	data, err := archive.Read(filePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading file: %v\n", err)
		os.Exit(1)
	}

	outputPath := filepath.Join(outputDir, filepath.Base(filePath))
	if err := writeFile(outputPath, data); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Extracted: %s (%s)\n", outputPath, humanize.Bytes(uint64(len(data))))
}

func extractPattern(archive *vpk.Archive, pattern, outputDir string) {
	extracted := 0
	var total int64
	for _, f := range archive.List() {
		base, _ := filepath.Match(pattern, filepath.Base(f))
		full, _ := filepath.Match(pattern, f)
		if !base && !full {
			continue
		}

		data, err := archive.Read(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", f, err)
			continue
		}

		outputPath := filepath.Join(outputDir, filepath.FromSlash(f))
		if err := writeFile(outputPath, data); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
			continue
		}

		fmt.Printf("Extracted: %s\n", outputPath)
		extracted++
		total += int64(len(data))
	}

	fmt.Fprintf(os.Stderr, "\nExtracted %d files (%s)\n", extracted, humanize.Bytes(uint64(total)))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func cmdSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	limit := fs.Int("n", 50, "Limit results (0 = all)")
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: vpktool search <pak_dir.vpk> <pattern>")
		os.Exit(1)
	}

	archive := openArchive(fs.Arg(0))
	defer archive.Close()

	pattern := strings.ToLower(fs.Arg(1))

	count := 0
	for _, f := range archive.List() {
		if strings.Contains(f, pattern) {
			fmt.Println(f)
			count++
			if *limit > 0 && count >= *limit {
				fmt.Fprintf(os.Stderr, "\n(showing first %d matches, use -n 0 for all)\n", *limit)
				break
			}
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stderr, "No files found")
	} else if *limit == 0 || count < *limit {
		fmt.Fprintf(os.Stderr, "\n(%d files found)\n", count)
	}
}

func cmdPack(args []string) {
	fset := flag.NewFlagSet("pack", flag.ExitOnError)
	version := fset.Uint("version", 2, "Directory format version (1 or 2)")
	preload := fset.Int("preload", 0, "Bytes of each file stored in the directory tree")
	archiveSize := fset.Int64("archive-size", 0, "Split data into numbered archives of about this many bytes")
	fset.Parse(args)

	if fset.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: vpktool pack [options] <pak_dir.vpk> <directory>")
		os.Exit(1)
	}
	dirPath, root := fset.Arg(0), fset.Arg(1)

	files := make(map[string][]byte)
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = data
		total  += int64(len(data))
		return nil
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", root, err)
		os.Exit(1)
	}

	opts := vpk.PackOptions{
		Version:      uint32(*version),
		PreloadBytes: *preload,
		ArchiveSize:  *archiveSize,
	}
	if err := vpk.Pack(dirPath, files, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Packed: %s (%d files, %s)\n", dirPath, len(files), humanize.Bytes(uint64(total)))
}
