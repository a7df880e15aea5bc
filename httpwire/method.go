package httpwire

// ParseMethod identifies the HTTP method token of a request line. Grounded
// on shockwave/pkg/shockwave/http11/method.go's length-switch-then-compare
// approach: avoids a map lookup or string allocation on the hot path.
func ParseMethod(tok []byte) Method {
	switch len(tok) {
	case 3:
		switch tok[0] {
		case 'G':
			if tok[1] == 'E' && tok[2] == 'T' {
				return MethodGET
			}
		case 'P':
			if tok[1] == 'U' && tok[2] == 'T' {
				return MethodPUT
			}
		}
	case 4:
		switch tok[0] {
		case 'P':
			if tok[1] == 'O' && tok[2] == 'S' && tok[3] == 'T' {
				return MethodPOST
			}
		case 'H':
			if tok[1] == 'E' && tok[2] == 'A' && tok[3] == 'D' {
				return MethodHEAD
			}
		}
	case 5:
		switch tok[0] {
		case 'P':
			if tok[1] == 'A' && tok[2] == 'T' && tok[3] == 'C' && tok[4] == 'H' {
				return MethodPATCH
			}
		case 'T':
			if tok[1] == 'R' && tok[2] == 'A' && tok[3] == 'C' && tok[4] == 'E' {
				return MethodTRACE
			}
		}
	case 6:
		if tok[0] == 'D' && tok[1] == 'E' && tok[2] == 'L' && tok[3] == 'E' && tok[4] == 'T' && tok[5] == 'E' {
			return MethodDELETE
		}
	case 7:
		switch tok[0] {
		case 'O':
			if tok[1] == 'P' && tok[2] == 'T' && tok[3] == 'I' && tok[4] == 'O' && tok[5] == 'N' && tok[6] == 'S' {
				return MethodOPTIONS
			}
		case 'C':
			if tok[1] == 'O' && tok[2] == 'N' && tok[3] == 'N' && tok[4] == 'E' && tok[5] == 'C' && tok[6] == 'T' {
				return MethodCONNECT
			}
		}
	}
	return MethodUnknown
}
