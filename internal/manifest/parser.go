package manifest

import (
	"context"
	"fmt"
	"os"
	"strings"

	lua "github.com/yuin/gopher-lua"
	"golang.org/x/mod/semver"

	"github.com/ZebulonRouseFrantzich/tapline/internal/config"
	"github.com/ZebulonRouseFrantzich/tapline/internal/platform"
)

// globalName is the Lua global a manifest file assigns.
const globalName = "manifest"

// Parser evaluates Lua manifests.
type Parser struct {
	detector platform.Detector
	logger   config.Logger
}

// NewParser creates a parser. When detector is non-nil the detected host is
// exposed to manifest code as the read-only `platform` table.
func NewParser(detector platform.Detector, logger config.Logger) *Parser {
	return &Parser{detector: detector, logger: config.OrDiscard(logger)}
}

// ParseError is a manifest that failed to evaluate or validate.
type ParseError struct {
	Source  string // file name, or "<string>"
	Message string // user-friendly message
	Detail  string // technical details (raw Lua or validation error)
}

func (e *ParseError) Error() string {
	detail := e.Detail
	if idx := strings.Index(detail, "stack traceback"); idx > 0 {
		detail = strings.TrimSpace(detail[:idx])
	}
	return fmt.Sprintf("%s: %s: %s", e.Source, e.Message, detail)
}

// ParseFile reads and evaluates a manifest file.
func (p *Parser) ParseFile(ctx context.Context, path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return p.parse(ctx, path, string(data))
}

// ParseString evaluates manifest code held in memory.
func (p *Parser) ParseString(ctx context.Context, code string) (*Manifest, error) {
	return p.parse(ctx, "<string>", code)
}

func (p *Parser) parse(ctx context.Context, source, code string) (*Manifest, error) {
	L := newSandboxedVM()
	defer L.Close()
	L.SetContext(ctx)

	if p.detector != nil {
		info, err := p.detector.Detect(ctx)
		if err != nil {
			return nil, fmt.Errorf("platform detection failed: %w", err)
		}
		if err := platform.InjectPlatformTable(L, info); err != nil {
			return nil, fmt.Errorf("inject platform table: %w", err)
		}
	}

	if err := L.DoString(code); err != nil {
		return nil, &ParseError{Source: source, Message: "Lua error", Detail: err.Error()}
	}

	m, err := extractManifest(L)
	if err != nil {
		return nil, &ParseError{Source: source, Message: "invalid manifest", Detail: err.Error()}
	}
	if err := m.Validate(); err != nil {
		return nil, &ParseError{Source: source, Message: "manifest validation failed", Detail: err.Error()}
	}

	if !semver.IsValid("v" + strings.TrimPrefix(m.Version, "v")) {
		p.logger.Warn("manifest version is not semantic", "package", m.Name, "version", m.Version)
	}
	p.logger.Debug("parsed manifest", "source", source, "package", m.Name, "variants", len(m.Variants))

	return m, nil
}

// extractManifest reads the global manifest table.
func extractManifest(L *lua.LState) (*Manifest, error) {
	root, ok := L.GetGlobal(globalName).(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("missing or invalid %q table", globalName)
	}

	var m Manifest
	var err error
	if m.Name, err = stringField(root, "name"); err != nil {
		return nil, err
	}
	if m.DisplayName, err = stringField(root, "display_name"); err != nil {
		return nil, err
	}
	if m.DisplayName == "" {
		m.DisplayName = m.Name
	}
	if m.Version, err = stringField(root, "version"); err != nil {
		return nil, err
	}
	if m.Description, err = stringField(root, "description"); err != nil {
		return nil, err
	}
	if m.Homepage, err = stringField(root, "homepage"); err != nil {
		return nil, err
	}

	switch variants := root.RawGetString("variants").(type) {
	case *lua.LTable:
		if m.Variants, err = extractVariants(variants); err != nil {
			return nil, err
		}
	case *lua.LNilType:
		// single-source shorthand: url/sha256/container at top level
		if root.RawGetString("url") != lua.LNil {
			v, err := extractVariant(root)
			if err != nil {
				return nil, err
			}
			m.Variants = []Variant{v}
		}
	default:
		return nil, fmt.Errorf("variants: expected table, got %s", variants.Type())
	}

	switch app := root.RawGetString("app").(type) {
	case *lua.LTable:
		if m.App, err = extractApp(app); err != nil {
			return nil, err
		}
	case *lua.LNilType:
	default:
		return nil, fmt.Errorf("app: expected table, got %s", app.Type())
	}

	if m.Zap, err = stringList(root, "zap"); err != nil {
		return nil, err
	}

	return &m, nil
}

// extractVariants reads the variants array. Nil entries, produced by
// platform conditionals such as `platform.is_linux and {...} or nil`, are
// skipped.
func extractVariants(table *lua.LTable) ([]Variant, error) {
	var variants []Variant
	for i := 1; i <= table.MaxN(); i++ {
		switch entry := table.RawGetInt(i).(type) {
		case *lua.LNilType:
			continue
		case *lua.LTable:
			v, err := extractVariant(entry)
			if err != nil {
				return nil, fmt.Errorf("variant %d: %w", i, err)
			}
			variants = append(variants, v)
		default:
			return nil, fmt.Errorf("variant %d: expected table, got %s", i, entry.Type())
		}
	}
	return variants, nil
}

func extractVariant(table *lua.LTable) (Variant, error) {
	var v Variant
	var err error

	if v.OS, err = stringField(table, "os"); err != nil {
		return v, err
	}
	v.OS = strings.ToLower(v.OS)
	if v.Arch, err = stringField(table, "arch"); err != nil {
		return v, err
	}
	if v.Arch != "" {
		normalized, err := platform.NormalizeArch(v.Arch)
		if err != nil {
			return v, err
		}
		v.Arch = normalized
	}
	switch bits := table.RawGetString("bits").(type) {
	case lua.LNumber:
		v.Bits = int(bits)
	case *lua.LNilType:
	default:
		return v, fmt.Errorf("bits: expected number, got %s", bits.Type())
	}
	if v.URL, err = stringField(table, "url"); err != nil {
		return v, err
	}
	if v.SHA256, err = stringField(table, "sha256"); err != nil {
		return v, err
	}
	v.SHA256 = strings.ToLower(v.SHA256)
	container, err := stringField(table, "container")
	if err != nil {
		return v, err
	}
	v.Container = Container(container)
	if v.SignatureURL, err = stringField(table, "signature_url"); err != nil {
		return v, err
	}
	return v, nil
}

func extractApp(table *lua.LTable) (AppSpec, error) {
	var app AppSpec
	var err error
	if app.Executable, err = stringField(table, "executable"); err != nil {
		return app, err
	}
	if app.DesktopEntry, err = stringField(table, "desktop_entry"); err != nil {
		return app, err
	}
	if app.Icon, err = stringField(table, "icon"); err != nil {
		return app, err
	}
	return app, nil
}

// stringField returns table[key] as a string; nil yields "".
func stringField(table *lua.LTable, key string) (string, error) {
	switch v := table.RawGetString(key).(type) {
	case lua.LString:
		return string(v), nil
	case *lua.LNilType:
		return "", nil
	default:
		return "", fmt.Errorf("%s: expected string, got %s", key, v.Type())
	}
}

// stringList returns table[key] as a list of strings, skipping nils.
func stringList(table *lua.LTable, key string) ([]string, error) {
	switch list := table.RawGetString(key).(type) {
	case *lua.LNilType:
		return nil, nil
	case *lua.LTable:
		var out []string
		for i := 1; i <= list.MaxN(); i++ {
			switch s := list.RawGetInt(i).(type) {
			case lua.LString:
				out = append(out, string(s))
			case *lua.LNilType:
			default:
				return nil, fmt.Errorf("%s[%d]: expected string, got %s", key, i, s.Type())
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected table, got %s", key, list.Type())
	}
}
