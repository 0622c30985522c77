package api

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Register is sent by an endpoint on every fast cycle. UUID is omitted on
// first contact; the server assigns one and the agent persists it.
type Register struct {
	Name string  `json:"name"`
	UUID *string `json:"uuid,omitempty"`
}

type OSInfo struct {
	OperatingSystem string `json:"operating_system"`
	OSVersion       string `json:"os_version"`
	ComputerName    string `json:"computer_name"`
	Domain          string `json:"domain"`
}

type HardwareInfo struct {
	Model     ComputerModel  `json:"model"`
	Memory    PhysicalMemory `json:"memory"`
	Processor Processor      `json:"processor"`
	Disks     Disks          `json:"disks"`
	Network   Network        `json:"network"`
	Graphics  GraphicsCard   `json:"graphics"`
	BIOS      BIOS           `json:"bios"`
}

type ComputerModel struct {
	Manufacturer string `json:"manufacturer"`
	ModelFamily  string `json:"model_family"`
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
}

type PhysicalMemory struct {
	Sticks []MemoryStick `json:"sticks"`
}

type MemoryStick struct {
	BankLabel string `json:"bank_label"`
	Capacity  uint64 `json:"capacity"`
}

type Processor struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Cores        uint32 `json:"cores"`
	LogicalCores uint32 `json:"logical_cores"`
	ClockSpeed   uint32 `json:"clock_speed"`
	AddressWidth uint16 `json:"address_width"`
}

type Disks struct {
	Drives []DiskDrive `json:"drives"`
}

type DiskDrive struct {
	Model        string `json:"model"`
	SerialNumber string `json:"serial_number"`
	Size         uint64 `json:"size"`
	DeviceID     string `json:"device_id"`
	Status       string `json:"status"`
	MediaType    string `json:"media_type"`
}

type Network struct {
	Adapters []NetworkAdapter `json:"adapter"`
}

type NetworkAdapter struct {
	Name        string   `json:"name"`
	MACAddress  *string  `json:"mac_address,omitempty"`
	IPAddresses []string `json:"ip_addresses,omitempty"`
}

type GraphicsCard struct {
	Name string `json:"name"`
}

type BIOS struct {
	Manufacturer string `json:"manufacturer"`
	Name         string `json:"name"`
	Version      string `json:"version"`
}

// UserProfiles is a full snapshot of the profiles present on one endpoint.
type UserProfiles struct {
	Profiles []ProfileInfo `json:"profiles"`
}

// ProfileInfo describes one local user profile. Username may carry a
// combined "DOMAIN\name" form when Domain is absent.
type ProfileInfo struct {
	Domain            *string    `json:"domain,omitempty"`
	Username          *string    `json:"username,omitempty"`
	SID               string     `json:"sid"`
	HealthStatus      uint8      `json:"health_status"`
	RoamingConfigured bool       `json:"roaming_configured"`
	RoamingPath       *string    `json:"roaming_path,omitempty"`
	RoamingPreference *bool      `json:"roaming_preference,omitempty"`
	LastUseTime       *time.Time `json:"last_use_time,omitempty"`
	LastDownloadTime  *time.Time `json:"last_download_time,omitempty"`
	LastUploadTime    *time.Time `json:"last_upload_time,omitempty"`
	Status            uint32     `json:"status"`
	Size              *uint64    `json:"size,omitempty"`
	PathSize          []PathInfo `json:"path_size,omitempty"`
}

type PathInfo struct {
	Path string `json:"path"`
	Size uint64 `json:"size"`
}

type SoftwareLibrary struct {
	Software []SoftwareEntry `json:"software"`
}

type SoftwareEntry struct {
	Name      string  `json:"name"`
	Version   string  `json:"version"`
	Publisher *string `json:"publisher,omitempty"`
}

type LicenseBundle struct {
	Licenses []License `json:"licenses"`
}

type License struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

type VolumeList struct {
	Volumes []Volume `json:"volumes"`
}

type Volume struct {
	DriveLetter string  `json:"drive_letter"`
	Label       *string `json:"label,omitempty"`
	FileSystem  string  `json:"file_system"`
	Capacity    uint64  `json:"capacity"`
	FreeSpace   uint64  `json:"free_space"`
}

type BatteryStatus struct {
	Batteries []Battery `json:"batteries"`
}

type Battery struct {
	ID                  string `json:"id"`
	Manufacturer        string `json:"manufacturer"`
	SerialNumber        string `json:"serial_number"`
	Chemistry           string `json:"chemistry"`
	CycleCount          uint32 `json:"cycle_count"`
	DesignedCapacity    uint32 `json:"designed_capacity"`
	FullChargedCapacity uint32 `json:"full_charged_capacity"`
}

// TaskBundle is the response of a pending-task fetch.
type TaskBundle struct {
	Tasks []Task `json:"tasks"`
}

// Task is a pending task as handed to an endpoint. Task holds the opaque
// payload; TaskPayload is the shape the agent understands.
type Task struct {
	ID        int64           `json:"id"`
	Task      json.RawMessage `json:"task"`
	TimeStart *time.Time      `json:"time_start,omitempty"`
}

// TaskUpdate reports a status transition for one task.
type TaskUpdate struct {
	ID             int64           `json:"id"`
	TimeDownloaded *time.Time      `json:"time_downloaded,omitempty"`
	TaskStatus     TaskStatus      `json:"task_status"`
	TaskResult     json.RawMessage `json:"task_result,omitempty"`
}

// TaskPayload is a named operation with a parameter bag.
type TaskPayload struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StringParam returns a non-empty string parameter.
func (p TaskPayload) StringParam(key string) (string, bool) {
	v, ok := p.Parameters[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

// TaskResult is the structured result attached to a Failed report.
type TaskResult struct {
	Error string `json:"error"`
}

// ErrorResponse is the JSON body of every non-2xx server response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const TaskDeleteUserProfile = "delete-user-profile"

// TaskStatus is stored as its integer code and travels as its name.
type TaskStatus int

const (
	TaskCreated TaskStatus = iota
	TaskDownloaded
	TaskRunning
	TaskSuccessful
	TaskFailed
)

var taskStatusNames = [...]string{"Created", "Downloaded", "Running", "Successful", "Failed"}

func (s TaskStatus) String() string {
	if s < 0 || int(s) >= len(taskStatusNames) {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return taskStatusNames[s]
}

func (s TaskStatus) Valid() bool {
	return s >= TaskCreated && s <= TaskFailed
}

// Rank orders statuses along the lifecycle. Successful and Failed share the
// terminal rank so neither can follow the other.
func (s TaskStatus) Rank() int {
	if s == TaskFailed {
		return int(TaskSuccessful)
	}
	return int(s)
}

func (s TaskStatus) Terminal() bool {
	return s == TaskSuccessful || s == TaskFailed
}

// ParseTaskStatus accepts a status name, case-insensitively.
func ParseTaskStatus(name string) (TaskStatus, error) {
	for i, n := range taskStatusNames {
		if strings.EqualFold(n, name) {
			return TaskStatus(i), nil
		}
	}
	return 0, fmt.Errorf("unknown task status %q", name)
}

func (s TaskStatus) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid task status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("task status must be a string: %w", err)
	}
	parsed, err := ParseTaskStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s TaskStatus) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Profile status bits as reported by the Windows profile service.
const (
	ProfileTemporary uint32 = 0x1
	ProfileRoaming   uint32 = 0x2
	ProfileMandatory uint32 = 0x4
	ProfileCorrupted uint32 = 0x8
)

// ProfileStatusFlags decodes a profile status bitmask into flag names.
func ProfileStatusFlags(status uint32) []string {
	var out []string
	if status&ProfileTemporary != 0 {
		out = append(out, "Temporary")
	}
	if status&ProfileRoaming != 0 {
		out = append(out, "Roaming")
	}
	if status&ProfileMandatory != 0 {
		out = append(out, "Mandatory")
	}
	if status&ProfileCorrupted != 0 {
		out = append(out, "Corrupted")
	}
	return out
}

// ProfileHealthName maps the profile health code to a label. Unknown codes
// yield "".
func ProfileHealthName(code uint8) string {
	switch code {
	case 0:
		return "healthy"
	case 1:
		return "unhealthy"
	case 2:
		return "attention"
	default:
		return ""
	}
}
