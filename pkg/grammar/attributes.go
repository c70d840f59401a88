package grammar

import (
	"errors"
	"fmt"
	"html"
	"strings"
)

// parseAttributes reads name="value" pairs. Values may use single or double
// quotes and are HTML-unescaped. On error the pairs read so far are returned.
func parseAttributes(s string) (map[string]string, error) {
	attrs := map[string]string{}
	i := 0
	for {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return attrs, nil
		}

		start := i
		for i < len(s) && isNameByte(s[i]) {
			i++
		}
		if i == start {
			return attrs, fmt.Errorf("invalid attribute at %q", s[start:])
		}
		key := s[start:i]

		if i >= len(s) || s[i] != '=' {
			return attrs, fmt.Errorf("attribute %s missing value", key)
		}
		i++
		if i >= len(s) || (s[i] != '"' && s[i] != '\'') {
			return attrs, fmt.Errorf("attribute %s value must be quoted", key)
		}
		quote := s[i]
		i++
		end := strings.IndexByte(s[i:], quote)
		if end < 0 {
			return attrs, fmt.Errorf("attribute %s value is not terminated", key)
		}
		attrs[key] = html.UnescapeString(s[i : i+end])
		i += end + 1
	}
}

// decodeFile turns a verbatim file body into a File. The body carries a
// <data> or <url> element; name and mime_type come from attributes or from
// child elements of the same name.
func decodeFile(attrs map[string]string, body string) (*File, error) {
	f := &File{Name: attrs["name"], MimeType: attrs["mime_type"]}
	if f.Name == "" {
		f.Name, _ = innerElement(body, "name")
		f.Name = strings.TrimSpace(f.Name)
	}
	if f.MimeType == "" {
		f.MimeType, _ = innerElement(body, "mime_type")
		f.MimeType = strings.TrimSpace(f.MimeType)
	}

	if data, ok := innerElement(body, "data"); ok {
		f.Data = data
	} else if url, ok := innerElement(body, "url"); ok {
		f.URL = strings.TrimSpace(url)
	} else if strings.TrimSpace(body) != "" {
		f.Data = body
	} else {
		return nil, errors.New("file has neither data nor url")
	}

	if f.Name == "" {
		return nil, errors.New("file missing name")
	}
	return f, nil
}

// innerElement returns the text between <name> and </name>.
func innerElement(body, name string) (string, bool) {
	open := "<" + name + ">"
	closeTag := "</" + name + ">"
	i := strings.Index(body, open)
	if i < 0 {
		return "", false
	}
	rest := body[i+len(open):]
	j := strings.Index(rest, closeTag)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}
