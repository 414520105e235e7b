package remote

// TransferStatus is the remote's reported status for an in-flight transfer.
type TransferStatus string

const (
	StatusWaiting  TransferStatus = "waiting"
	StatusRunning  TransferStatus = "running"
	StatusFinished TransferStatus = "finished"
	StatusDeleted  TransferStatus = "deleted"
	StatusBanned   TransferStatus = "banned"
	StatusError    TransferStatus = "error"
	StatusTimeout  TransferStatus = "timeout"
	StatusSeeding  TransferStatus = "seeding"
	StatusQueued   TransferStatus = "queued"
)

// Failed reports whether s is one of the terminal failure statuses Stage C
// treats as a per-upload remote failure (spec §4.6 Stage C).
func (s TransferStatus) Failed() bool {
	switch s {
	case StatusDeleted, StatusBanned, StatusError, StatusTimeout:
		return true
	default:
		return false
	}
}

// Progressing reports whether s is a still-in-flight status.
func (s TransferStatus) Progressing() bool {
	switch s {
	case StatusWaiting, StatusRunning, StatusQueued, StatusSeeding:
		return true
	default:
		return false
	}
}

// Transfer is one entry from /transfer/list.
type Transfer struct {
	ID       string
	Name     string
	Message  string
	Status   TransferStatus
	Progress float64
	FolderID string
	Src      string
}

// EntryType distinguishes a folder listing entry.
type EntryType string

const (
	EntryFolder EntryType = "folder"
	EntryFile   EntryType = "file"
)

// FolderEntry is one item from /folder/list. Only ID, Name, Type and
// CreatedAt are guaranteed; Size/Link/DirectLink are file-only.
type FolderEntry struct {
	ID         string
	Name       string
	Type       EntryType
	CreatedAt  int64
	Size       int64
	Link       string
	DirectLink string
}

// IsFolder reports whether the entry is a folder.
func (e FolderEntry) IsFolder() bool { return e.Type == EntryFolder }

// IsFile reports whether the entry is a file.
func (e FolderEntry) IsFile() bool { return e.Type == EntryFile }

// FileRef is a flattened (link, relative_path, filename) triple produced by
// walking a completed transfer's folder tree (spec §4.6 Stage D).
type FileRef struct {
	Link         string
	RelativePath string
	Filename     string
}
