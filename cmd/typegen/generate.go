package main

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// structInfo stores parsed information about a Go struct.
type structInfo struct {
	name   string
	key    string // "rel/dir:Name", unique across the module
	fields []fieldInfo
}

type fieldInfo struct {
	jsonName string
	goType   string // qualified, e.g. "*core:ImageRef" or "time.Duration"
	optional bool
}

// target is one struct to emit. Source is either a plain struct name (first
// match wins) or "rel/dir:Name" when several packages share the name.
type target struct {
	source string
	tsName string
}

// targets lists the emitted interfaces in output order.
var targets = []target{
	// Settings
	{"SettingsConfig", "Settings"},
	{"SessionAPIConfig", "SessionApiConfig"},
	{"SessionConfig", "SessionConfig"},
	{"ChatConfig", "ChatConfig"},
	{"CaptureConfig", "CaptureConfig"},
	{"handlers/stt:STTConfig", "SttHandlerConfig"},
	{"ConversationConfig", "ConversationConfig"},
	{"handlers/tts:TTSConfig", "TtsHandlerConfig"},
	{"PhraseRule", "PhraseRule"},
	// Providers
	{"LLMFactoryConfig", "LlmServiceConfig"},
	{"STTFactoryConfig", "SttServiceConfig"},
	{"TTSFactoryConfig", "TtsServiceConfig"},
	{"services/openai/llm:Config", "OpenAiLlmConfig"},
	{"services/gemini/llm:Config", "GeminiLlmConfig"},
	{"services/openai/stt:Config", "WhisperConfig"},
	{"DeepgramConfig", "DeepgramSttConfig"},
	{"services/openai/tts:Config", "OpenAiTtsConfig"},
	{"services/deepgram/tts:Config", "DeepgramTtsConfig"},
	{"ElevenLabsTTSConfig", "ElevenLabsTtsConfig"},
	{"CartesiaTTSConfig", "CartesiaTtsConfig"},
	// Chat
	{"Turn", "Turn"},
	{"ImageRef", "ImageRef"},
	{"SubmitResult", "SubmitResult"},
	// Control plane
	{"Envelope", "Envelope"},
	{"RegisterPayload", "RegisterPayload"},
	{"HeartbeatPayload", "HeartbeatPayload"},
	{"LogPayload", "LogPayload"},
	{"protocol:LogEntry", "LogEntry"},
	{"EventPayload", "EventPayload"},
	{"LogEndPayload", "LogEndPayload"},
	{"AckPayload", "AckPayload"},
	{"SubmitPayload", "SubmitPayload"},
	{"TogglePlaybackPayload", "TogglePlaybackPayload"},
	{"RecordingPayload", "RecordingPayload"},
	{"ShutdownPayload", "ShutdownPayload"},
	// Events
	{"TurnAppendedEvent", "TurnAppendedEvent"},
	{"SubmissionFailedEvent", "SubmissionFailedEvent"},
	{"CannedReplyEvent", "CannedReplyEvent"},
}

// requiredFields stay required in the output. Everything else is optional
// because settings JSON only carries overrides.
var requiredFields = map[string]map[string]bool{
	"Turn":         {"id": true, "role": true, "content": true, "created_at": true},
	"Envelope":     {"type": true},
	"AckPayload":   {"acked_type": true, "ok": true},
	"LogEntry":     {"ts": true, "level": true, "msg": true},
	"PhraseRule":   {"name": true, "alternatives": true, "reply": true},
	"SubmitResult": {"user": true, "assistant": true},
}

// typeMapping maps Go type strings to TypeScript type strings.
var typeMapping = map[string]string{
	"string":          "string",
	"int":             "number",
	"int32":           "number",
	"int64":           "number",
	"uint8":           "number",
	"float32":         "number",
	"float64":         "number",
	"bool":            "boolean",
	"byte":            "number",
	"any":             "unknown",
	"interface{}":     "unknown",
	"json.RawMessage": "unknown",
	"time.Time":       "string",
	"time.Duration":   "number", // nanoseconds
}

// generator holds everything parsed from one module tree.
type generator struct {
	module  string
	structs map[string]*structInfo // by key and, first wins, by plain name
	aliases map[string]string      // "core:Role" -> "string"
	consts  map[string][]string    // "core:Role" -> ["user", "assistant"]
	tsRefs  map[string]string      // struct key -> TS name
}

func newGenerator(module string) *generator {
	return &generator{
		module:  module,
		structs: map[string]*structInfo{},
		aliases: map[string]string{},
		consts:  map[string][]string{},
		tsRefs:  map[string]string{},
	}
}

// generate parses every package under root and renders the TypeScript file.
func generate(root, module string) ([]byte, error) {
	dirs, err := discoverGoDirs(root)
	if err != nil {
		return nil, fmt.Errorf("discover dirs: %w", err)
	}

	g := newGenerator(module)
	for _, dir := range dirs {
		rel, _ := filepath.Rel(root, dir)
		if err := g.parseDir(dir, filepath.ToSlash(rel)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: skipping %s: %v\n", dir, err)
		}
	}
	return g.render(), nil
}

// discoverGoDirs returns every directory holding non-test .go files,
// skipping vendor, hidden and underscore directories and this command.
func discoverGoDirs(root string) ([]string, error) {
	seen := map[string]bool{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if path != root && (name == "vendor" || name == "node_modules" || name == "typegen" ||
				strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") && !strings.HasSuffix(path, "_test.go") {
			seen[filepath.Dir(path)] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs, nil
}

func (g *generator) parseDir(dir, rel string) error {
	fset := token.NewFileSet()
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		file, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.SkipObjectResolution)
		if err != nil {
			return err
		}
		g.parseFile(file, rel)
	}
	return nil
}

func (g *generator) parseFile(file *ast.File, rel string) {
	imports := g.moduleImports(file)
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok {
			continue
		}
		switch genDecl.Tok {
		case token.TYPE:
			for _, spec := range genDecl.Specs {
				ts := spec.(*ast.TypeSpec)
				key := rel + ":" + ts.Name.Name
				switch t := ts.Type.(type) {
				case *ast.Ident:
					// type Role string
					g.aliases[key] = t.Name
				case *ast.StructType:
					si := g.parseStruct(ts.Name.Name, key, t, imports, rel)
					g.structs[key] = si
					if _, taken := g.structs[ts.Name.Name]; !taken {
						g.structs[ts.Name.Name] = si
					}
				}
			}
		case token.CONST:
			// Only explicitly typed string constants become unions.
			for _, spec := range genDecl.Specs {
				vs := spec.(*ast.ValueSpec)
				if vs.Type == nil {
					continue
				}
				typeName := g.typeString(vs.Type, imports, rel)
				for _, val := range vs.Values {
					lit, ok := val.(*ast.BasicLit)
					if !ok || lit.Kind != token.STRING {
						continue
					}
					if s, err := strconv.Unquote(lit.Value); err == nil {
						g.consts[typeName] = append(g.consts[typeName], s)
					}
				}
			}
		}
	}
}

// moduleImports maps the file's import names to module-relative dirs.
func (g *generator) moduleImports(file *ast.File) map[string]string {
	imports := map[string]string{}
	prefix := g.module + "/"
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || !strings.HasPrefix(path, prefix) {
			continue
		}
		rel := strings.TrimPrefix(path, prefix)
		name := rel[strings.LastIndex(rel, "/")+1:]
		if imp.Name != nil {
			name = imp.Name.Name
		}
		imports[name] = rel
	}
	return imports
}

func (g *generator) parseStruct(name, key string, st *ast.StructType, imports map[string]string, rel string) *structInfo {
	si := &structInfo{name: name, key: key}
	for _, field := range st.Fields.List {
		if field.Tag == nil {
			continue
		}
		tag := reflect.StructTag(strings.Trim(field.Tag.Value, "`"))
		parts := strings.Split(tag.Get("json"), ",")
		jsonName := parts[0]
		if jsonName == "" || jsonName == "-" || isSecret(jsonName) {
			continue
		}

		_, isPointer := field.Type.(*ast.StarExpr)
		omitempty := false
		for _, p := range parts[1:] {
			if p == "omitempty" {
				omitempty = true
			}
		}
		si.fields = append(si.fields, fieldInfo{
			jsonName: jsonName,
			goType:   g.typeString(field.Type, imports, rel),
			optional: omitempty || isPointer,
		})
	}
	return si
}

// isSecret keeps credentials out of anything the UI sees.
func isSecret(jsonName string) bool {
	return jsonName == "api_key" || jsonName == "api_secret" || jsonName == "token_secret"
}

// typeString renders a type expression with module types qualified by
// their directory, e.g. "core:Turn". Other packages keep their selector.
func (g *generator) typeString(expr ast.Expr, imports map[string]string, rel string) string {
	switch t := expr.(type) {
	case *ast.Ident:
		if _, builtin := typeMapping[t.Name]; builtin {
			return t.Name
		}
		return rel + ":" + t.Name
	case *ast.StarExpr:
		return "*" + g.typeString(t.X, imports, rel)
	case *ast.ArrayType:
		return "[]" + g.typeString(t.Elt, imports, rel)
	case *ast.MapType:
		return "map[" + g.typeString(t.Key, imports, rel) + "]" + g.typeString(t.Value, imports, rel)
	case *ast.SelectorExpr:
		pkg, _ := t.X.(*ast.Ident)
		if pkg == nil {
			return "unknown"
		}
		if dir, ok := imports[pkg.Name]; ok {
			return dir + ":" + t.Sel.Name
		}
		return pkg.Name + "." + t.Sel.Name
	case *ast.InterfaceType:
		return "interface{}"
	default:
		return "unknown"
	}
}

// resolveType converts a qualified Go type string to a TypeScript type.
func (g *generator) resolveType(goType string) string {
	clean := strings.TrimPrefix(goType, "*")

	if ts, ok := typeMapping[clean]; ok {
		return ts
	}
	if strings.HasPrefix(clean, "[]") {
		inner := g.resolveType(clean[2:])
		if strings.Contains(inner, "|") {
			inner = "(" + inner + ")"
		}
		return inner + "[]"
	}
	if strings.HasPrefix(clean, "map[") {
		// Keys are always strings on the wire.
		value := clean[strings.Index(clean, "]")+1:]
		return "Record<string, " + g.resolveType(value) + ">"
	}
	if ts, ok := g.tsRefs[clean]; ok {
		return ts
	}
	if vals := g.consts[clean]; len(vals) > 0 {
		return buildUnionLiteral(vals)
	}
	if underlying, ok := g.aliases[clean]; ok {
		return g.resolveType(underlying)
	}
	return "unknown"
}

// buildUnionLiteral returns a TS inline union type from string values.
func buildUnionLiteral(vals []string) string {
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = "'" + v + "'"
	}
	return strings.Join(quoted, " | ")
}

func (g *generator) render() []byte {
	found := make([]*structInfo, len(targets))
	for i, t := range targets {
		si, ok := g.structs[t.source]
		if !ok {
			fmt.Fprintf(os.Stderr, "warning: struct %q not found, skipping\n", t.source)
			continue
		}
		found[i] = si
		g.tsRefs[si.key] = t.tsName
	}

	var buf bytes.Buffer
	buf.WriteString("// Code generated by cmd/typegen; DO NOT EDIT.\n")
	buf.WriteString("//\n")
	buf.WriteString("// Regenerate: go run ./cmd/typegen -out ui/src/types/generated.ts\n\n")

	for i, t := range targets {
		if found[i] != nil {
			g.writeInterface(&buf, t.tsName, found[i])
		}
	}
	writeManualTypes(&buf)
	return buf.Bytes()
}

func (g *generator) writeInterface(buf *bytes.Buffer, tsName string, si *structInfo) {
	required := requiredFields[tsName]
	fmt.Fprintf(buf, "/** Generated from Go struct: %s */\n", si.key)
	fmt.Fprintf(buf, "export interface %s {\n", tsName)
	for _, f := range si.fields {
		opt := "?"
		if required[f.jsonName] && !f.optional {
			opt = ""
		}
		fmt.Fprintf(buf, "  %s%s: %s\n", f.jsonName, opt, g.resolveType(f.goType))
	}
	buf.WriteString("}\n\n")
}

// writeManualTypes writes shapes the UI needs that are not Go structs.
func writeManualTypes(buf *bytes.Buffer) {
	buf.WriteString("// --- Types not generated from Go structs ---\n\n")
	buf.WriteString(`export type PlaybackState = 'silent' | 'speaking'

export interface PlaybackResult {
  turn_id: string
  state: PlaybackState
}

export interface TranscriptionResult {
  text: string
}
`)
}
