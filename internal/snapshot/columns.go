package snapshot

import "strings"

// Reserved metadata columns carried by every snapshot row. The double
// underscore prefix keeps them out of the user-defined column namespace.
const (
	ColumnRemoteID        = "__remoteId"
	ColumnEditedFields    = "__edited_fields"
	ColumnSuggestedValues = "__suggested_values"
	ColumnDirty           = "__dirty"
	ColumnSeen            = "__seen"
	ColumnDeleted         = "__deleted"
	ColumnCreated         = "__created"
	ColumnMetadata        = "__metadata"
	ColumnOriginal        = "__original"
	ColumnConflicts       = "__conflicts"
)

// ReservedPrefix marks column names owned by the sync core.
const ReservedPrefix = "__"

// Remote-id prefixes for records without a live remote counterpart.
const (
	UnpublishedPrefix = "unpublished_"
	DeletedPrefix     = "deleted_"
)

// reservedColumns is the persisted column order.
var reservedColumns = []string{
	ColumnRemoteID,
	ColumnEditedFields,
	ColumnSuggestedValues,
	ColumnDirty,
	ColumnSeen,
	ColumnDeleted,
	ColumnCreated,
	ColumnMetadata,
	ColumnOriginal,
	ColumnConflicts,
}

// IsReserved reports whether name collides with the reserved namespace.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// IsSentinel reports whether key is a record-level marker that may appear
// inside the edited or suggested maps (__created, __deleted).
func IsSentinel(key string) bool {
	return key == ColumnCreated || key == ColumnDeleted
}

// IsUnpublished reports whether remoteID belongs to a record that has never
// been pushed to the remote.
func IsUnpublished(remoteID string) bool {
	return remoteID == "" || strings.HasPrefix(remoteID, UnpublishedPrefix)
}

// IsTombstoned reports whether remoteID marks a record deleted on the remote.
func IsTombstoned(remoteID string) bool {
	return strings.HasPrefix(remoteID, DeletedPrefix)
}

// IsPublished reports whether remoteID identifies a live remote record.
func IsPublished(remoteID string) bool {
	return !IsUnpublished(remoteID) && !IsTombstoned(remoteID)
}

// NewUnpublishedID derives the placeholder remote id of a local record.
func NewUnpublishedID(wsID string) string {
	return UnpublishedPrefix + wsID
}

// TombstoneID derives the tombstoned remote id. Already tombstoned ids are
// returned unchanged.
func TombstoneID(remoteID string) string {
	if IsTombstoned(remoteID) {
		return remoteID
	}
	return DeletedPrefix + remoteID
}
