// Package vault assembles the credential and configuration document that a
// bridge needs to execute one task.
//
// Build is pure: the same TaskContext and Config always produce the same
// bytes. Keys are emitted in a deterministic order: struct fields as declared,
// map keys sorted.
package vault

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Function names with extra-section behaviour.
const (
	FuncBackupCreate   = "backup_create"
	FuncBackupDeploy   = "backup_deploy"
	FuncBackupPull     = "backup_pull"
	FuncRepositoryList = "repository_list"
)

// Config tunes a Builder.
type Config struct {
	// APIURL supplies context.api_url. Nil means "".
	APIURL func() string
	// EncodeBase64 encodes SSH keys. Nil means standard padded base64.
	EncodeBase64 func(string) string
	// Registry defaults to DefaultRegistry.
	Registry *Registry

	ValidateParams      bool
	ValidateConnections bool
}

// Builder assembles vault documents. It holds no mutable state.
type Builder struct {
	apiURL   func() string
	encode   func(string) string
	registry *Registry

	validateParams      bool
	validateConnections bool
}

// NewBuilder returns a Builder with cfg's defaults filled in.
func NewBuilder(cfg Config) *Builder {
	b := &Builder{
		apiURL:              cfg.APIURL,
		encode:              cfg.EncodeBase64,
		registry:            cfg.Registry,
		validateParams:      cfg.ValidateParams,
		validateConnections: cfg.ValidateConnections,
	}
	if b.apiURL == nil {
		b.apiURL = func() string { return "" }
	}
	if b.encode == nil {
		b.encode = encodeStd
	}
	if b.registry == nil {
		b.registry = DefaultRegistry()
	}
	return b
}

// Registry returns the function table the builder consults.
func (b *Builder) Registry() *Registry {
	return b.registry
}

// Requirements returns the declared requirements of a function.
func (b *Builder) Requirements(function string) Requirements {
	return b.registry.Requirements(function)
}

// Build assembles and serializes the document for tc.
func (b *Builder) Build(tc TaskContext) (string, error) {
	doc, err := b.BuildDocument(tc)
	if err != nil {
		return "", err
	}
	return Encode(doc)
}

// BuildDocument assembles the document for tc without serializing it.
func (b *Builder) BuildDocument(tc TaskContext) (*Document, error) {
	doc, err := b.assemble(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to build queue vault: %w", err)
	}
	return doc, nil
}

// Encode serializes a document as minified JSON in deterministic key order
// and without HTML escaping.
func Encode(doc *Document) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode queue vault: %w", err)
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// resolved holds every fragment decoded once up front.
type resolved struct {
	team         *TeamVault
	machine      *MachineVault
	repository   *RepositoryVault
	organization *OrganizationVault

	destMachine *MachineVault
	destStorage *StorageVault
	srcMachine  *MachineVault
	srcStorage  *StorageVault

	machines map[string]*MachineVault
	storages map[string]*StorageVault
}

func (b *Builder) assemble(tc TaskContext) (*Document, error) {
	fn, ok := b.registry.Lookup(tc.FunctionName)
	if !ok || !fn.Public {
		return nil, &ValidationError{
			Field:   "function",
			Message: fmt.Sprintf("%q is not a known public function", tc.FunctionName),
			Err:     ErrUnknownFunction,
		}
	}
	if b.validateParams {
		if err := validateParams(fn, tc.Params); err != nil {
			return nil, err
		}
	}

	rv, err := resolve(tc)
	if err != nil {
		return nil, err
	}

	if b.validateConnections && fn.Requirements.Machine {
		if err := validateMachine("machine_vault", rv.machine); err != nil {
			return nil, err
		}
	}

	doc := &Document{
		Schema:  Schema,
		Version: SchemaVersion,
		Task:    b.taskSection(tc),
		SSH:     b.sshSection(rv),
		Machine: machineSection(rv.machine),
	}
	if len(tc.Params) > 0 {
		doc.Params = tc.Params
	}

	doc.ExtraMachines, err = b.extraMachines(tc, rv)
	if err != nil {
		return nil, err
	}
	doc.StorageSystems, err = storageSystems(tc, rv)
	if err != nil {
		return nil, err
	}
	doc.RepositoryCredentials = repositoryCredentials(tc, fn, rv)
	doc.Repositories = repositories(tc, fn)
	doc.Context = b.contextSection(tc, rv)
	if tc.Language != "" {
		doc.Preferences = &PreferencesSection{Locale: Locale{Language: tc.Language}}
	}
	return doc, nil
}

func resolve(tc TaskContext) (*resolved, error) {
	rv := &resolved{
		machines: make(map[string]*MachineVault, len(tc.AdditionalMachineData)),
		storages: make(map[string]*StorageVault, len(tc.AdditionalStorageData)),
	}
	var err error
	if rv.team, err = decodeTeam(tc.TeamVault); err != nil {
		return nil, fragmentError("team_vault", err)
	}
	if rv.machine, err = decodeMachine(tc.MachineVault); err != nil {
		return nil, fragmentError("machine_vault", err)
	}
	if rv.repository, err = decodeRepository(tc.RepositoryVault); err != nil {
		return nil, fragmentError("repository_vault", err)
	}
	if rv.organization, err = decodeOrganization(tc.OrganizationVault); err != nil {
		return nil, fragmentError("organization_vault", err)
	}
	if rv.destMachine, err = decodeMachine(tc.DestinationMachineVault); err != nil {
		return nil, fragmentError("destination_machine_vault", err)
	}
	if rv.destStorage, err = decodeStorage(tc.DestinationStorageVault); err != nil {
		return nil, fragmentError("destination_storage_vault", err)
	}
	if rv.srcMachine, err = decodeMachine(tc.SourceMachineVault); err != nil {
		return nil, fragmentError("source_machine_vault", err)
	}
	if rv.srcStorage, err = decodeStorage(tc.SourceStorageVault); err != nil {
		return nil, fragmentError("source_storage_vault", err)
	}
	for name, f := range tc.AdditionalMachineData {
		mv, err := decodeMachine(f)
		if err != nil {
			return nil, fragmentError("additional_machine_data."+name, err)
		}
		if mv != nil {
			rv.machines[name] = mv
		}
	}
	for name, f := range tc.AdditionalStorageData {
		sv, err := decodeStorage(f)
		if err != nil {
			return nil, fragmentError("additional_storage_data."+name, err)
		}
		if sv != nil {
			rv.storages[name] = sv
		}
	}
	return rv, nil
}

func (b *Builder) taskSection(tc TaskContext) TaskSection {
	repo := tc.RepositoryName
	if repo == "" {
		repo = paramString(tc.Params, "repository")
	}
	return TaskSection{
		Function:   tc.FunctionName,
		Machine:    tc.MachineName,
		Team:       tc.TeamName,
		Repository: repo,
	}
}

func (b *Builder) sshSection(rv *resolved) SSHSection {
	var s SSHSection
	if rv.team != nil {
		s.PrivateKey = EnsureBase64(rv.team.SSHPrivateKey, b.encode)
		s.PublicKey = EnsureBase64(rv.team.SSHPublicKey, b.encode)
		s.KnownHosts = rv.team.SSHKnownHosts
		s.Password = rv.team.SSHPassword
	}
	// Machine-level password wins over the team's.
	if rv.machine != nil && rv.machine.SSHPassword != "" {
		s.Password = rv.machine.SSHPassword
	}
	return s
}

func machineSection(mv *MachineVault) MachineSection {
	if mv == nil {
		return MachineSection{}
	}
	return MachineSection{
		IP:         mv.IP,
		User:       mv.User,
		Port:       mv.Port,
		Datastore:  mv.Datastore,
		KnownHosts: mv.KnownHosts,
	}
}

func (b *Builder) extraMachines(tc TaskContext, rv *resolved) (map[string]MachineSection, error) {
	out := map[string]MachineSection{}
	add := func(name string, mv *MachineVault) error {
		if name == "" || mv == nil {
			return nil
		}
		if b.validateConnections {
			if err := validateMachine("extra_machines."+name, mv); err != nil {
				return err
			}
		}
		out[name] = machineSection(mv)
		return nil
	}

	from := paramString(tc.Params, "from")
	var err error
	switch tc.FunctionName {
	case FuncBackupDeploy:
		if to := paramString(tc.Params, "to"); to != tc.MachineName {
			mv := rv.destMachine
			if mv == nil {
				mv = rv.machines[to]
			}
			err = add(to, mv)
		}
	case FuncBackupPull:
		if paramString(tc.Params, "sourceType") == "machine" {
			mv := rv.machines[from]
			if mv == nil {
				mv = rv.srcMachine
			}
			err = add(from, mv)
		}
	case FuncRepositoryList:
		err = add(from, rv.machines[from])
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func storageSystems(tc TaskContext, rv *resolved) (map[string]StorageSection, error) {
	out := map[string]StorageSection{}
	add := func(name string, sv *StorageVault) error {
		if name == "" || sv == nil {
			return nil
		}
		section, err := storageSection(name, sv)
		if err != nil {
			return err
		}
		out[name] = section
		return nil
	}

	from := paramString(tc.Params, "from")
	switch tc.FunctionName {
	case FuncBackupCreate:
		targets := paramList(tc.Params, "storages")
		if len(targets) == 0 {
			if to := paramString(tc.Params, "to"); to != "" {
				targets = []string{to}
			}
		}
		for i, name := range targets {
			sv := rv.storages[name]
			if sv == nil && i == 0 {
				sv = rv.destStorage
			}
			if err := add(name, sv); err != nil {
				return nil, err
			}
		}
	case FuncRepositoryList:
		if err := add(from, rv.storages[from]); err != nil {
			return nil, err
		}
	case FuncBackupPull:
		if paramString(tc.Params, "sourceType") == "storage" {
			sv := rv.storages[from]
			if sv == nil {
				sv = rv.srcStorage
			}
			if err := add(from, sv); err != nil {
				return nil, err
			}
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func storageSection(name string, sv *StorageVault) (StorageSection, error) {
	if sv.Provider == "" {
		return StorageSection{}, invalid("storage_systems."+name, "storage provider type is required")
	}
	return StorageSection{
		Backend:    sv.Provider,
		Bucket:     sv.Bucket,
		Region:     sv.Region,
		Folder:     sv.Folder,
		Parameters: sv.Parameters,
	}, nil
}

func repositoryCredentials(tc TaskContext, fn Function, rv *resolved) map[string]string {
	out := map[string]string{}
	if tc.FunctionName == FuncRepositoryList {
		for name, cred := range tc.AllRepositoryCredentials {
			out[name] = cred
		}
	}
	if fn.Requirements.Repository && tc.RepositoryGUID != "" && rv.repository != nil && rv.repository.Credential != "" {
		out[tc.RepositoryGUID] = rv.repository.Credential
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func repositories(tc TaskContext, fn Function) map[string]RepositoryInfo {
	out := map[string]RepositoryInfo{}
	if fn.Requirements.Repository && tc.RepositoryGUID != "" {
		name := tc.RepositoryName
		if name == "" {
			name = paramString(tc.Params, "repository")
		}
		if name == "" {
			name = tc.RepositoryGUID
		}
		out[name] = RepositoryInfo{GUID: tc.RepositoryGUID, Name: name, NetworkID: tc.NetworkID}
	}
	if tc.FunctionName == FuncRepositoryList {
		for name, guid := range tc.AllRepositories {
			out[name] = RepositoryInfo{GUID: guid, Name: name}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (b *Builder) contextSection(tc TaskContext, rv *resolved) ContextSection {
	c := ContextSection{
		OrganizationID: tc.OrganizationCredential,
		APIURL:         b.apiURL(),
	}
	if rv.organization != nil {
		c.UniversalUserID = rv.organization.UniversalUserID
		c.UniversalUserName = rv.organization.UniversalUserName
	}
	return c
}
