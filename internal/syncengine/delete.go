package syncengine

import "os"

// deleteLocal removes a file flagged delete_local by a sync compare. A
// missing file is not an error: another concurrent action may have
// already removed it, or a prior run crashed after deleting it but
// before persisting that fact anywhere.
func deleteLocal(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
