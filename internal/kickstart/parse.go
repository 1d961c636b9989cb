package kickstart

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// maxIncludeDepth bounds `include` nesting to catch accidental cycles.
const maxIncludeDepth = 8

var varRefRe = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// ParseFile parses a layout document from disk. `include` directives are
// resolved relative to the including file.
func ParseFile(path string, res Resolver) (*Document, error) {
	p := &parser{res: res, doc: &Document{Directives: defaultDirectives()}}
	if err := p.parseFile(path, 0); err != nil {
		return nil, err
	}
	return p.finish()
}

// Parse parses a layout document from a reader. The name is used in error
// messages and as the base for resolving includes.
func Parse(r io.Reader, name string, res Resolver) (*Document, error) {
	p := &parser{res: res, doc: &Document{Directives: defaultDirectives()}}
	if err := p.parse(r, name, 0); err != nil {
		return nil, err
	}
	return p.finish()
}

func defaultDirectives() ImageDirectives {
	return ImageDirectives{
		Imager:         "direct",
		TableType:      "msdos",
		CapacityPolicy: CapacityGrow,
	}
}

type parser struct {
	res Resolver
	doc *Document

	file string // top-level document, for whole-document errors

	sawBootloader bool
	sawImage      bool
}

func (p *parser) finish() (*Document, error) {
	if len(p.doc.Partitions) == 0 {
		return nil, &ParseError{File: p.file, Msg: "document declares no partitions"}
	}
	return p.doc, nil
}

func (p *parser) parseFile(path string, depth int) error {
	f, err := os.Open(path)
	if err != nil {
		return &ParseError{File: path, Msg: err.Error()}
	}
	defer f.Close()
	return p.parse(f, path, depth)
}

func (p *parser) parse(r io.Reader, file string, depth int) error {
	if p.file == "" {
		p.file = file
	}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := p.parseLine(line, file, lineno, depth); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &ParseError{File: file, Line: lineno, Msg: err.Error()}
	}
	return nil
}

func (p *parser) parseLine(line, file string, lineno, depth int) error {
	tokens, err := splitTokens(line)
	if err != nil {
		return &ParseError{File: file, Line: lineno, Msg: err.Error()}
	}

	// Substitute build variables before semantic validation so that
	// substitution failures are reported with the original position.
	for i, tok := range tokens {
		tokens[i], err = p.substitute(tok, file, lineno)
		if err != nil {
			return err
		}
	}

	switch tokens[0] {
	case "part":
		return p.parsePart(tokens[1:], file, lineno)
	case "bootloader":
		return p.parseBootloader(tokens[1:], file, lineno)
	case "image":
		return p.parseImage(tokens[1:], file, lineno)
	case "include":
		return p.parseInclude(tokens[1:], file, lineno, depth)
	default:
		return &ParseError{File: file, Line: lineno, Msg: fmt.Sprintf("unknown directive %q", tokens[0])}
	}
}

func (p *parser) substitute(tok, file string, lineno int) (string, error) {
	var missing string
	out := varRefRe.ReplaceAllStringFunc(tok, func(ref string) string {
		name := varRefRe.FindStringSubmatch(ref)[1]
		if v, ok := p.res.Lookup(name); ok {
			return v
		}
		if missing == "" {
			missing = name
		}
		return ref
	})
	if missing != "" {
		return "", &UnresolvedVariableError{File: file, Line: lineno, Name: missing}
	}
	return out, nil
}

func (p *parser) parseInclude(args []string, file string, lineno, depth int) error {
	if len(args) != 1 {
		return &ParseError{File: file, Line: lineno, Msg: "include takes exactly one path"}
	}
	if depth+1 > maxIncludeDepth {
		return &ParseError{File: file, Line: lineno, Msg: "include nesting too deep"}
	}
	path := args[0]
	if !filepath.IsAbs(path) {
		path = filepath.Join(filepath.Dir(file), path)
	}
	return p.parseFile(path, depth+1)
}

// options walks `--name value`, `--name=value` and bare `--flag` tokens.
// The callback reports whether the option consumed a value.
type optionFunc func(name, value string, hasValue bool) error

func scanOptions(tokens []string, file string, lineno int, valued map[string]bool, apply optionFunc) error {
	i := 0
	for i < len(tokens) {
		tok := tokens[i]
		i++
		if !strings.HasPrefix(tok, "--") {
			return &ParseError{File: file, Line: lineno, Msg: fmt.Sprintf("unexpected token %q", tok)}
		}
		name, value, hasValue := strings.Cut(tok, "=")
		needsValue, known := valued[name]
		if !known {
			return &ParseError{File: file, Line: lineno, Msg: fmt.Sprintf("unknown option %s", name)}
		}
		if needsValue && !hasValue {
			if i >= len(tokens) || strings.HasPrefix(tokens[i], "--") {
				return &ParseError{File: file, Line: lineno, Msg: fmt.Sprintf("option %s requires a value", name)}
			}
			value = tokens[i]
			hasValue = true
			i++
		}
		if !needsValue && hasValue {
			return &ParseError{File: file, Line: lineno, Msg: fmt.Sprintf("option %s takes no value", name)}
		}
		if err := apply(name, value, hasValue); err != nil {
			return &ParseError{File: file, Line: lineno, Msg: err.Error()}
		}
	}
	return nil
}

var partOptions = map[string]bool{
	"--source":          true,
	"--fstype":          true,
	"--size":            true,
	"--fixed-size":      true,
	"--fill":            false,
	"--align":           true,
	"--label":           true,
	"--active":          false,
	"--offset":          true,
	"--part-type":       true,
	"--uuid":            true,
	"--fsoptions":       true,
	"--extra-space":     true,
	"--overhead-factor": true,
	"--no-table":        false,
	"--hidden":          false,
	"--sourceparams":    true,
}

func (p *parser) parsePart(tokens []string, file string, lineno int) error {
	spec := PartitionSpec{
		Ordinal:        len(p.doc.Partitions),
		Line:           lineno,
		Align:          DefaultAlignment,
		ExtraSpace:     DefaultExtraSpace,
		OverheadFactor: DefaultOverheadFactor,
		SourceParams:   map[string]string{},
	}

	// An optional leading mountpoint precedes the options.
	if len(tokens) > 0 && !strings.HasPrefix(tokens[0], "--") {
		spec.Mountpoint = tokens[0]
		tokens = tokens[1:]
	}

	sawSize := false
	err := scanOptions(tokens, file, lineno, partOptions, func(name, value string, _ bool) error {
		var err error
		switch name {
		case "--source":
			spec.Source = value
		case "--fstype":
			if !knownFSTypes[value] {
				return fmt.Errorf("unknown filesystem type %q", value)
			}
			if value != "none" {
				spec.FSType = value
			}
		case "--size", "--fixed-size":
			spec.Size, err = parseSize(value)
			if err != nil {
				return err
			}
			spec.SizePolicy = SizeExplicit
			spec.FixedSize = name == "--fixed-size"
			sawSize = true
		case "--fill":
			spec.SizePolicy = SizeFill
		case "--align":
			kb, err := strconv.ParseUint(value, 10, 64)
			if err != nil || kb == 0 {
				return fmt.Errorf("invalid alignment %q", value)
			}
			spec.Align = kb * 1024
		case "--label":
			spec.Label = value
		case "--active":
			spec.Bootable = true
		case "--offset":
			spec.Offset, err = parseSize(value)
			if err != nil {
				return err
			}
		case "--part-type":
			spec.PartType = value
		case "--uuid":
			spec.UUID = value
		case "--fsoptions":
			spec.FSOptions = value
		case "--extra-space":
			spec.ExtraSpace, err = parseSize(value)
			if err != nil {
				return err
			}
		case "--overhead-factor":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil || f < 1.0 {
				return fmt.Errorf("invalid overhead factor %q, must be >= 1.0", value)
			}
			spec.OverheadFactor = f
		case "--no-table":
			spec.NoTable = true
		case "--hidden":
			spec.Hidden = true
		case "--sourceparams":
			spec.SourceParams, err = parseSourceParams(value)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if spec.Source == "" {
		return &ParseError{File: file, Line: lineno, Msg: "part requires --source"}
	}
	if sawSize && spec.SizePolicy == SizeFill {
		return &ParseError{File: file, Line: lineno, Msg: "--fill conflicts with an explicit size"}
	}

	p.doc.Partitions = append(p.doc.Partitions, spec)
	return nil
}

var bootloaderOptions = map[string]bool{
	"--source":  true,
	"--ptable":  true,
	"--timeout": true,
	"--append":  true,
}

func (p *parser) parseBootloader(tokens []string, file string, lineno int) error {
	if p.sawBootloader {
		return &ParseError{File: file, Line: lineno, Msg: "duplicate bootloader directive"}
	}
	p.sawBootloader = true

	return scanOptions(tokens, file, lineno, bootloaderOptions, func(name, value string, _ bool) error {
		switch name {
		case "--source":
			p.doc.Directives.Bootloader = value
		case "--ptable":
			if !knownTableTypes[value] {
				return fmt.Errorf("unknown partition table type %q", value)
			}
			p.doc.Directives.TableType = value
		case "--timeout":
			t, err := strconv.Atoi(value)
			if err != nil || t < 0 {
				return fmt.Errorf("invalid timeout %q", value)
			}
			p.doc.Directives.BootloaderTimeout = t
		case "--append":
			p.doc.Directives.BootloaderAppend = value
		}
		return nil
	})
}

var imageOptions = map[string]bool{
	"--imager":   true,
	"--capacity": true,
	"--output":   true,
	"--compress": true,
}

func (p *parser) parseImage(tokens []string, file string, lineno int) error {
	if p.sawImage {
		return &ParseError{File: file, Line: lineno, Msg: "duplicate image directive"}
	}
	p.sawImage = true

	return scanOptions(tokens, file, lineno, imageOptions, func(name, value string, _ bool) error {
		switch name {
		case "--imager":
			p.doc.Directives.Imager = value
		case "--capacity":
			if value == "grow" {
				p.doc.Directives.CapacityPolicy = CapacityGrow
				return nil
			}
			size, err := parseSize(value)
			if err != nil {
				return err
			}
			p.doc.Directives.CapacityPolicy = CapacityExplicit
			p.doc.Directives.Capacity = size
		case "--output":
			p.doc.Directives.Output = value
		case "--compress":
			if !knownCompressors[value] {
				return fmt.Errorf("unknown compressor %q", value)
			}
			if value != "none" {
				p.doc.Directives.Compress = value
			}
		}
		return nil
	})
}
