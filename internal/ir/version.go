package ir

// IRVersion is stored with every registered workbook and written, together
// with EngineVersion, into each backup manifest. Bump IRVersion when the
// canonical form of a WorkbookSpec changes.
const (
	IRVersion     = "1"
	EngineVersion = "0.1.0"
)

// VersionString describes the build, e.g. "0.1.0 (ir 1)".
func VersionString() string {
	return EngineVersion + " (ir " + IRVersion + ")"
}
