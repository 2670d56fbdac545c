package vault

// Schema identifies the assembled document layout.
const (
	Schema        = "queue-vault-v2"
	SchemaVersion = "2.0"
)

// TaskContext is everything the assembler needs to build one document. Vault
// fields accept either a JSON string or an object when decoded from JSON.
type TaskContext struct {
	FunctionName   string         `json:"function_name"`
	TeamName       string         `json:"team_name"`
	MachineName    string         `json:"machine_name"`
	BridgeName     string         `json:"bridge_name"`
	RepositoryName string         `json:"repository_name,omitempty"`
	RepositoryGUID string         `json:"repository_guid,omitempty"`
	NetworkID      *int           `json:"repository_network_id,omitempty"`
	StorageName    string         `json:"storage_name,omitempty"`
	Params         map[string]any `json:"params,omitempty"`
	Priority       int            `json:"priority,omitempty"`
	AddedVia       string         `json:"added_via,omitempty"`
	Language       string         `json:"language,omitempty"`

	OrganizationCredential string `json:"organization_credential,omitempty"`

	TeamVault         Fragment `json:"team_vault,omitempty"`
	MachineVault      Fragment `json:"machine_vault,omitempty"`
	RepositoryVault   Fragment `json:"repository_vault,omitempty"`
	BridgeVault       Fragment `json:"bridge_vault,omitempty"`
	StorageVault      Fragment `json:"storage_vault,omitempty"`
	OrganizationVault Fragment `json:"organization_vault,omitempty"`

	DestinationMachineVault Fragment `json:"destination_machine_vault,omitempty"`
	DestinationStorageVault Fragment `json:"destination_storage_vault,omitempty"`
	SourceMachineVault      Fragment `json:"source_machine_vault,omitempty"`
	SourceStorageVault      Fragment `json:"source_storage_vault,omitempty"`

	AdditionalMachineData map[string]Fragment `json:"additional_machine_data,omitempty"`
	AdditionalStorageData map[string]Fragment `json:"additional_storage_data,omitempty"`

	// repository_list fan-out: name to credential, name to guid.
	AllRepositoryCredentials map[string]string `json:"all_repository_credentials,omitempty"`
	AllRepositories          map[string]string `json:"all_repositories,omitempty"`
}

// Document is the assembled vault handed to a bridge.
type Document struct {
	Schema  string         `json:"$schema"`
	Version string         `json:"version"`
	Task    TaskSection    `json:"task"`
	SSH     SSHSection     `json:"ssh"`
	Machine MachineSection `json:"machine"`
	Params  map[string]any `json:"params,omitempty"`

	ExtraMachines         map[string]MachineSection `json:"extra_machines,omitempty"`
	StorageSystems        map[string]StorageSection `json:"storage_systems,omitempty"`
	RepositoryCredentials map[string]string         `json:"repository_credentials,omitempty"`
	Repositories          map[string]RepositoryInfo `json:"repositories,omitempty"`

	Context     ContextSection      `json:"context"`
	Preferences *PreferencesSection `json:"preferences,omitempty"`
}

// TaskSection names the work.
type TaskSection struct {
	Function   string `json:"function"`
	Machine    string `json:"machine"`
	Team       string `json:"team"`
	Repository string `json:"repository,omitempty"`
}

// SSHSection carries team credentials. Keys are base64 encoded.
type SSHSection struct {
	PrivateKey string `json:"private_key"`
	PublicKey  string `json:"public_key"`
	KnownHosts string `json:"known_hosts,omitempty"`
	Password   string `json:"password,omitempty"`
}

// MachineSection describes one reachable machine.
type MachineSection struct {
	IP         string `json:"ip"`
	User       string `json:"user"`
	Port       *int   `json:"port,omitempty"`
	Datastore  string `json:"datastore,omitempty"`
	KnownHosts string `json:"known_hosts,omitempty"`
}

// StorageSection describes one storage backend.
type StorageSection struct {
	Backend    string         `json:"backend"`
	Bucket     string         `json:"bucket,omitempty"`
	Region     string         `json:"region,omitempty"`
	Folder     *string        `json:"folder,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// RepositoryInfo identifies a repository on the target machine.
type RepositoryInfo struct {
	GUID      string `json:"guid"`
	Name      string `json:"name"`
	NetworkID *int   `json:"network_id,omitempty"`
}

// ContextSection carries organization and API context.
type ContextSection struct {
	OrganizationID    string `json:"organization_id,omitempty"`
	APIURL            string `json:"api_url"`
	UniversalUserID   string `json:"universal_user_id,omitempty"`
	UniversalUserName string `json:"universal_user_name,omitempty"`
}

// PreferencesSection carries caller display preferences.
type PreferencesSection struct {
	Locale Locale `json:"locale"`
}

// Locale is the caller's language.
type Locale struct {
	Language string `json:"language"`
}
