package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"strings"
)

type fragmentKind uint8

const (
	fragmentNone fragmentKind = iota
	fragmentRaw
	fragmentObject
)

// Fragment is one entity's vault before assembly. Callers hand it over either
// as a JSON string or as an already-decoded object; both are accepted.
type Fragment struct {
	kind   fragmentKind
	raw    string
	object map[string]any
}

// RawFragment wraps a JSON document held as a string.
func RawFragment(s string) Fragment {
	if strings.TrimSpace(s) == "" {
		return Fragment{}
	}
	return Fragment{kind: fragmentRaw, raw: s}
}

// ObjectFragment wraps an already-decoded object.
func ObjectFragment(m map[string]any) Fragment {
	if m == nil {
		return Fragment{}
	}
	return Fragment{kind: fragmentObject, object: m}
}

// IsZero reports whether no vault was supplied.
func (f Fragment) IsZero() bool {
	return f.kind == fragmentNone
}

// UnmarshalJSON accepts a JSON string holding a document, an object, or null.
func (f *Fragment) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*f = Fragment{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = RawFragment(s)
	case b[0] == '{':
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			return err
		}
		*f = ObjectFragment(m)
	default:
		return fmt.Errorf("vault must be a JSON string or object")
	}
	return nil
}

// MarshalJSON emits the fragment in the form it was supplied.
func (f Fragment) MarshalJSON() ([]byte, error) {
	switch f.kind {
	case fragmentRaw:
		return json.Marshal(f.raw)
	case fragmentObject:
		return json.Marshal(f.object)
	default:
		return []byte("null"), nil
	}
}

// record returns a private copy of the decoded fields.
func (f Fragment) record() (map[string]any, error) {
	switch f.kind {
	case fragmentRaw:
		var m map[string]any
		if err := json.Unmarshal([]byte(f.raw), &m); err != nil {
			return nil, err
		}
		if m == nil {
			m = map[string]any{}
		}
		return m, nil
	case fragmentObject:
		return maps.Clone(f.object), nil
	default:
		return nil, nil
	}
}

// take removes and returns the first present key, trying each spelling.
func take(m map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			delete(m, k)
			return v, true
		}
	}
	return nil, false
}

// takeString is take followed by stringOf; missing and null become "".
func takeString(m map[string]any, keys ...string) string {
	v, _ := take(m, keys...)
	return stringOf(v)
}

func stringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case json.Number:
		return t.String()
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// parsePort accepts a number or a numeric string. Anything else is absent.
func parsePort(v any) *int {
	var n int
	switch t := v.(type) {
	case float64:
		if t != float64(int(t)) {
			return nil
		}
		n = int(t)
	case int:
		n = t
	case string:
		p, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil
		}
		n = p
	default:
		return nil
	}
	return &n
}

// TeamVault is the decoded team fragment.
type TeamVault struct {
	SSHPrivateKey string
	SSHPublicKey  string
	SSHKnownHosts string
	SSHPassword   string
	Extra         map[string]any
}

// MachineVault is the decoded machine fragment.
type MachineVault struct {
	IP          string
	User        string
	Port        *int
	RawPort     any
	Datastore   string
	KnownHosts  string
	SSHPassword string
	Extra       map[string]any
}

// StorageVault is the decoded storage fragment.
type StorageVault struct {
	Provider   string
	Bucket     string
	Region     string
	Folder     *string
	Parameters map[string]any
	Extra      map[string]any
}

// RepositoryVault is the decoded repository fragment.
type RepositoryVault struct {
	Credential string
	Extra      map[string]any
}

// OrganizationVault is the decoded organization fragment.
type OrganizationVault struct {
	UniversalUserID   string
	UniversalUserName string
	Extra             map[string]any
}

func decodeTeam(f Fragment) (*TeamVault, error) {
	m, err := f.record()
	if err != nil || m == nil {
		return nil, err
	}
	return &TeamVault{
		SSHPrivateKey: takeString(m, "SSH_PRIVATE_KEY"),
		SSHPublicKey:  takeString(m, "SSH_PUBLIC_KEY"),
		SSHKnownHosts: takeString(m, "SSH_KNOWN_HOSTS"),
		SSHPassword:   passwordOf(m),
		Extra:         m,
	}, nil
}

func decodeMachine(f Fragment) (*MachineVault, error) {
	m, err := f.record()
	if err != nil || m == nil {
		return nil, err
	}
	rawPort, _ := take(m, "port", "PORT")
	return &MachineVault{
		IP:          takeString(m, "ip", "IP"),
		User:        takeString(m, "user", "USER"),
		Port:        parsePort(rawPort),
		RawPort:     rawPort,
		Datastore:   takeString(m, "datastore"),
		KnownHosts:  takeString(m, "known_hosts"),
		SSHPassword: passwordOf(m),
		Extra:       m,
	}, nil
}

func decodeStorage(f Fragment) (*StorageVault, error) {
	m, err := f.record()
	if err != nil || m == nil {
		return nil, err
	}
	sv := &StorageVault{
		Provider: takeString(m, "provider"),
		Bucket:   takeString(m, "bucket"),
		Region:   takeString(m, "region"),
	}
	if v, ok := take(m, "folder"); ok && v != nil {
		folder := stringOf(v)
		sv.Folder = &folder
	}
	if v, ok := take(m, "parameters"); ok {
		if params, ok := v.(map[string]any); ok && len(params) > 0 {
			sv.Parameters = params
		}
	}
	sv.Extra = m
	return sv, nil
}

func decodeRepository(f Fragment) (*RepositoryVault, error) {
	m, err := f.record()
	if err != nil || m == nil {
		return nil, err
	}
	return &RepositoryVault{Credential: takeString(m, "credential"), Extra: m}, nil
}

func decodeOrganization(f Fragment) (*OrganizationVault, error) {
	m, err := f.record()
	if err != nil || m == nil {
		return nil, err
	}
	return &OrganizationVault{
		UniversalUserID:   takeString(m, "UNIVERSAL_USER_ID"),
		UniversalUserName: takeString(m, "UNIVERSAL_USER_NAME"),
		Extra:             m,
	}, nil
}

// passwordOf extracts a trimmed SSH password. Non-string values are ignored.
func passwordOf(m map[string]any) string {
	v, _ := take(m, "ssh_password", "SSH_PASSWORD")
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}
