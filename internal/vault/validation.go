package vault

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var (
	base64Pattern   = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)
	hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)*$`)
)

// IsBase64 reports whether s is non-empty standard padded base64.
func IsBase64(s string) bool {
	if s == "" || len(s)%4 != 0 || !base64Pattern.MatchString(s) {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

// EnsureBase64 encodes s unless it is already base64. Empty input stays empty.
// Applying it twice gives the same result as applying it once.
func EnsureBase64(s string, encode func(string) string) string {
	if s == "" || IsBase64(s) {
		return s
	}
	return encode(s)
}

func encodeStd(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// paramString returns a scalar parameter as a string, or "" when absent,
// empty, or not a scalar.
func paramString(params map[string]any, key string) string {
	switch v := params[key].(type) {
	case string:
		return v
	case float64, bool, int:
		return stringOf(v)
	default:
		return ""
	}
}

// paramList accepts a JSON array or a comma separated string.
func paramList(params map[string]any, key string) []string {
	var out []string
	switch v := params[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(stringOf(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, s := range v {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// validateParams checks params against the function's declared parameters.
func validateParams(fn Function, params map[string]any) error {
	var errs []error
	for _, p := range fn.Params {
		v, present := params[p.Name]
		if !present || v == nil || v == "" {
			if p.Required {
				errs = append(errs, invalid("params."+p.Name, "is required"))
			}
			continue
		}
		if err := checkParamType(p, v); err != nil {
			errs = append(errs, err)
			continue
		}
		if len(p.Enum) > 0 {
			s := stringOf(v)
			ok := false
			for _, allowed := range p.Enum {
				if s == allowed {
					ok = true
					break
				}
			}
			if !ok {
				errs = append(errs, invalid("params."+p.Name, "must be one of %s", strings.Join(p.Enum, ", ")))
			}
		}
	}
	return joinValidation(errs)
}

func checkParamType(p Param, v any) error {
	field := "params." + p.Name
	switch p.Type {
	case ParamInt:
		switch t := v.(type) {
		case float64:
			if t != float64(int64(t)) {
				return invalid(field, "must be an integer")
			}
		case int:
		case string:
			if _, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err != nil {
				return invalid(field, "must be an integer")
			}
		default:
			return invalid(field, "must be an integer")
		}
	case ParamBool:
		switch t := v.(type) {
		case bool:
		case string:
			if _, err := strconv.ParseBool(t); err != nil {
				return invalid(field, "must be a boolean")
			}
		default:
			return invalid(field, "must be a boolean")
		}
	case ParamList:
		switch v.(type) {
		case []any, []string, string:
		default:
			return invalid(field, "must be a list")
		}
	case ParamString, "":
		switch v.(type) {
		case string, float64, int, bool:
		default:
			return invalid(field, "must be a string")
		}
	}
	return nil
}

// validateMachine checks that a machine section is usable for a connection.
func validateMachine(field string, mv *MachineVault) error {
	if mv == nil {
		return invalid(field, "vault is required")
	}
	var errs []error
	switch {
	case mv.IP == "":
		errs = append(errs, invalid(field+".ip", "is required"))
	case net.ParseIP(mv.IP) == nil && !hostnamePattern.MatchString(mv.IP):
		errs = append(errs, invalid(field+".ip", "%q is not an IP address or hostname", mv.IP))
	}
	if mv.User == "" {
		errs = append(errs, invalid(field+".user", "is required"))
	}
	if mv.RawPort != nil && mv.RawPort != "" {
		if mv.Port == nil || *mv.Port < 1 || *mv.Port > 65535 {
			errs = append(errs, invalid(field+".port", "must be between 1 and 65535"))
		}
	}
	return joinValidation(errs)
}

// joinValidation folds several validation errors into one.
func joinValidation(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return &ValidationError{Message: strings.Join(msgs, "; "), Err: errors.Join(errs...)}
}

func fragmentError(field string, err error) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf("malformed vault JSON: %v", err), Err: err}
}
