package httpwire

import "strings"

// Cookie is a single name/value pair decoded from a Cookie request header,
// or the full attribute set of a Set-Cookie response header.
type Cookie struct {
	Name     string
	Value    string
	Path     string
	Domain   string
	MaxAge   int // seconds; written as Max-Age only when HasMaxAge is true
	HasMaxAge bool
	Secure   bool
	HTTPOnly bool
	SameSite string // "Strict", "Lax", "None", or "" (unset)
}

// ParseCookies decodes a Cookie request header's semicolon-separated
// name=value pairs. The teacher (bolt/shockwave) has no cookie support at
// all; this follows RFC 6265 §4.2.1's "cookie-pair *( ';' SP cookie-pair )"
// grammar directly.
func ParseCookies(header []byte) []Cookie {
	if len(header) == 0 {
		return nil
	}
	var out []Cookie
	for _, raw := range strings.Split(string(header), ";") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		eq := strings.IndexByte(raw, '=')
		if eq < 0 {
			continue
		}
		name := strings.TrimSpace(raw[:eq])
		value := raw[eq+1:]
		if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
			value = value[1 : len(value)-1]
		}
		if name == "" {
			continue
		}
		out = append(out, Cookie{Name: name, Value: value})
	}
	return out
}

// WriteSetCookie renders a Set-Cookie response header value per RFC 6265
// §4.1.
func WriteSetCookie(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.HasMaxAge {
		b.WriteString("; Max-Age=")
		b.WriteString(itoa(c.MaxAge))
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}
	if c.SameSite != "" {
		b.WriteString("; SameSite=")
		b.WriteString(c.SameSite)
	}
	return b.String()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
