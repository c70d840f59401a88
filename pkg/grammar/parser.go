package grammar

import (
	"regexp"
	"strings"
)

const (
	errUnclosedTag       = "unclosed tag"
	errUnexpectedTag     = "unexpected tag"
	errUnexpectedClosing = "unexpected closing tag"
	errUnknownTag        = "unknown tag"
	errMalformedTag      = "malformed tag"
)

// Parse converts one buffer into a Result. When opts.Final is false the buffer
// is treated as a prefix of the response: structures that are still open are
// held back instead of being reported.
func Parse(buf string, opts Options) *Result {
	res := &Result{}
	if !opts.Final {
		buf = suppressPartialTag(buf, opts.Prefix)
	}

	rest, ok := extractReasoning(buf, opts, res)
	if !ok {
		return res
	}
	rest = extractStatusUpdates(rest, opts, res)

	s := &scanner{src: rest, prefix: opts.Prefix, final: opts.Final, res: res}
	s.run()
	return res
}

// suppressPartialTag drops a trailing tag on the last line that has been opened
// but not yet terminated with '>', so that a chunk boundary never splits a tag.
func suppressPartialTag(buf, prefix string) string {
	lineStart := strings.LastIndexByte(buf, '\n') + 1
	i := strings.LastIndexByte(buf[lineStart:], '<')
	if i < 0 {
		return buf
	}
	i += lineStart
	tail := buf[i:]
	if strings.IndexByte(tail, '>') >= 0 {
		return buf
	}
	for _, lead := range []string{"<" + prefix, "</" + prefix} {
		if strings.HasPrefix(tail, lead) || strings.HasPrefix(lead, tail) {
			return buf[:i]
		}
	}
	return buf
}

// extractReasoning removes the single leading reasoning block. It returns false
// when parsing must stop because the block has been opened but not closed.
func extractReasoning(buf string, opts Options, res *Result) (string, bool) {
	qp := regexp.QuoteMeta(opts.Prefix)
	open := "<" + opts.Prefix + TagReasoning + ">"
	if !strings.HasPrefix(strings.TrimLeft(buf, " \t\r\n"), open) {
		return buf, true
	}

	re := regexp.MustCompile(`(?s)\A\s*<` + qp + TagReasoning + `>(.*?)</` + qp + TagReasoning + `>`)
	m := re.FindStringSubmatchIndex(buf)
	if m == nil {
		if opts.Final {
			res.Errors = append(res.Errors, Error{Tag: TagReasoning, Message: errUnclosedTag})
		}
		return "", false
	}
	res.Reasoning = strings.TrimSpace(buf[m[2]:m[3]])
	return strings.TrimLeft(buf[m[1]:], "\r\n"), true
}

// extractStatusUpdates removes every complete status block and any trailing
// status block that is still open.
func extractStatusUpdates(buf string, opts Options, res *Result) string {
	qp := regexp.QuoteMeta(opts.Prefix)
	re := regexp.MustCompile(`(?s)<` + qp + TagStatusUpdate + `((?:\s[^>]*)?)>(.*?)</` + qp + TagStatusUpdate + `>`)

	var b strings.Builder
	last := 0
	for _, m := range re.FindAllStringSubmatchIndex(buf, -1) {
		b.WriteString(buf[last:m[0]])
		last = m[1]

		attrs, err := parseAttributes(buf[m[2]:m[3]])
		if err != nil {
			res.Errors = append(res.Errors, Error{Tag: TagStatusUpdate, Message: err.Error()})
		}
		su := StatusUpdate{Text: strings.TrimSpace(buf[m[4]:m[5]]), SubjectID: attrs["subject_id"]}
		res.StatusUpdates = append(res.StatusUpdates, su)
		if su.SubjectID != "" {
			res.CurrentSubjectID = su.SubjectID
		}
	}
	b.WriteString(buf[last:])
	out := b.String()

	if i := indexOpenTag(out, opts.Prefix, TagStatusUpdate); i >= 0 {
		if opts.Final {
			res.Errors = append(res.Errors, Error{Tag: TagStatusUpdate, Message: errUnclosedTag})
		}
		out = out[:i]
	}
	return out
}

// indexOpenTag finds the first opening tag named name, or -1.
func indexOpenTag(s, prefix, name string) int {
	lead := "<" + prefix + name
	from := 0
	for {
		i := strings.Index(s[from:], lead)
		if i < 0 {
			return -1
		}
		i += from
		end := i + len(lead)
		if end == len(s) || s[end] == '>' || s[end] == '/' || isSpace(s[end]) {
			return i
		}
		from = end
	}
}

type tag struct {
	name        string
	closing     bool
	selfClosing bool
	attrs       map[string]string
}

// scanner walks the body after reasoning and status extraction. Files and
// parameters are leaves captured verbatim; only invocations nest.
type scanner struct {
	src    string
	pos    int
	prefix string
	final  bool
	res    *Result

	text  strings.Builder
	stack []string
	inv   *Invocation
}

func (s *scanner) state() string {
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1]
}

func (s *scanner) errorf(tagName, msg string) {
	s.res.Errors = append(s.res.Errors, Error{Tag: tagName, Message: msg})
}

func (s *scanner) run() {
	for s.pos < len(s.src) {
		at := s.findTag(s.pos)
		if at < 0 {
			if s.state() == "" {
				s.text.WriteString(s.src[s.pos:])
			}
			s.pos = len(s.src)
			break
		}

		t, end, st := s.readTag(at)
		if st == tagIncomplete && !s.final {
			// The tag spans lines and its '>' has not arrived yet.
			if s.state() == "" {
				s.text.WriteString(s.src[s.pos:at])
			}
			s.finish()
			return
		}
		if st != tagOK {
			// Not one of ours after all; keep the '<' as text.
			if s.state() == "" {
				s.text.WriteString(s.src[s.pos : at+1])
			}
			s.pos = at + 1
			continue
		}
		if s.state() == "" {
			s.text.WriteString(s.src[s.pos:at])
		}
		s.pos = end

		if !s.handle(t) {
			// A leaf is still open; nothing after it is known yet.
			s.finish()
			return
		}
	}
	s.finish()
}

// handle applies one tag. It returns false when a verbatim leaf has no close
// tag in the buffer.
func (s *scanner) handle(t tag) bool {
	switch s.state() {
	case "":
		return s.handleFree(t)
	case TagInvocation:
		return s.handleInvocation(t)
	}
	return true
}

func (s *scanner) handleFree(t tag) bool {
	if t.closing {
		s.errorf(t.name, errUnexpectedClosing)
		return true
	}
	switch t.name {
	case TagFile:
		s.flushText()
		if t.selfClosing {
			s.errorf(TagFile, "file has no body")
			return true
		}
		body, ok := s.captureLeaf(TagFile)
		if !ok {
			s.stack = append(s.stack, TagFile)
			return false
		}
		f, err := decodeFile(t.attrs, body)
		if err != nil {
			s.errorf(TagFile, err.Error())
			return true
		}
		s.res.Items = append(s.res.Items, Item{Kind: KindFile, File: f})
	case TagInvocation:
		s.flushText()
		s.stack = append(s.stack, TagInvocation)
		s.inv = &Invocation{
			Capability: t.attrs["capability"],
			Action:     t.attrs["action"],
			Version:    t.attrs["version"],
			Parameters: map[string]string{},
		}
		if t.selfClosing {
			s.closeInvocation()
		}
	case TagParameter, TagReasoning, TagStatusUpdate:
		s.errorf(t.name, errUnexpectedTag)
	default:
		s.errorf(t.name, errUnknownTag)
	}
	return true
}

func (s *scanner) handleInvocation(t tag) bool {
	if t.closing {
		if t.name == TagInvocation {
			s.closeInvocation()
		} else {
			s.errorf(t.name, errUnexpectedClosing)
		}
		return true
	}
	if t.name != TagParameter {
		s.errorf(t.name, errUnexpectedTag)
		return true
	}
	name := t.attrs["name"]
	value := ""
	if !t.selfClosing {
		body, ok := s.captureLeaf(TagParameter)
		if !ok {
			s.stack = append(s.stack, TagParameter)
			return false
		}
		value = strings.TrimSpace(body)
	}
	if name == "" {
		s.errorf(TagParameter, "parameter missing name")
		return true
	}
	s.inv.Parameters[name] = value
	return true
}

func (s *scanner) closeInvocation() {
	s.stack = s.stack[:len(s.stack)-1]
	inv := s.inv
	s.inv = nil
	if inv.Capability == "" || inv.Action == "" {
		s.errorf(TagInvocation, "invocation missing capability or action")
		return
	}
	s.res.Invocations = append(s.res.Invocations, *inv)
}

// captureLeaf returns everything up to the matching close tag and advances
// past it.
func (s *scanner) captureLeaf(name string) (string, bool) {
	closeTag := "</" + s.prefix + name + ">"
	i := strings.Index(s.src[s.pos:], closeTag)
	if i < 0 {
		return "", false
	}
	body := s.src[s.pos : s.pos+i]
	s.pos += i + len(closeTag)
	return body, true
}

func (s *scanner) flushText() {
	txt := s.text.String()
	s.text.Reset()
	if strings.TrimSpace(txt) == "" {
		return
	}
	s.res.Items = append(s.res.Items, Item{Kind: KindText, Text: txt})
}

// finish emits pending free text and, on the final buffer, reports every tag
// that is still open.
func (s *scanner) finish() {
	s.flushText()
	if !s.final {
		return
	}
	for i := len(s.stack) - 1; i >= 0; i-- {
		s.errorf(s.stack[i], errUnclosedTag)
	}
}

// findTag returns the index of the next opening or closing tag carrying our
// prefix at or after from, or -1.
func (s *scanner) findTag(from int) int {
	open := "<" + s.prefix
	closing := "</" + s.prefix
	for i := from; i < len(s.src); {
		j := strings.IndexByte(s.src[i:], '<')
		if j < 0 {
			return -1
		}
		j += i
		if strings.HasPrefix(s.src[j:], open) || strings.HasPrefix(s.src[j:], closing) {
			return j
		}
		i = j + 1
	}
	return -1
}

type tagStatus int

const (
	tagOK tagStatus = iota
	tagNotOurs
	tagIncomplete
)

// readTag parses the tag starting at at and returns the offset just past it.
func (s *scanner) readTag(at int) (tag, int, tagStatus) {
	var t tag
	j := at + 1
	if j < len(s.src) && s.src[j] == '/' {
		t.closing = true
		j++
	}
	j += len(s.prefix)
	nameStart := j
	for j < len(s.src) && isNameByte(s.src[j]) {
		j++
	}
	if j == nameStart {
		if j == len(s.src) {
			return t, 0, tagIncomplete
		}
		return t, 0, tagNotOurs
	}
	t.name = s.src[nameStart:j]

	k := strings.IndexByte(s.src[j:], '>')
	if k < 0 {
		if s.final {
			s.errorf(t.name, errMalformedTag)
		}
		return t, 0, tagIncomplete
	}
	inner := s.src[j : j+k]
	end := j + k + 1
	if inner != "" && !isSpace(inner[0]) && inner[0] != '/' {
		// e.g. "<t1_file.bak>" is plain text.
		return t, 0, tagNotOurs
	}
	if strings.HasSuffix(inner, "/") {
		t.selfClosing = true
		inner = inner[:len(inner)-1]
	}
	if !t.closing {
		attrs, err := parseAttributes(inner)
		if err != nil {
			s.errorf(t.name, err.Error())
		}
		t.attrs = attrs
	}
	return t, end, tagOK
}

func isNameByte(c byte) bool {
	return c == '_' || c == '-' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
