package symstore

import (
	"fmt"

	"github.com/googlestadia/vsi-lldb-sub002/pkg/buildid"
)

const (
	msgCopyToFlatStoreNotSupported  = "Copying files to flat symbol directories is not supported."
	msgCopyToHTTPStoreNotSupported  = "Copying files to http symbol stores is not supported."
	msgCopyToSequenceNotSupported   = "Copying files to symbol store sequences is not supported."
	msgCopyToDebuginfodNotSupported = "Copying files to the debuginfod cache is not supported."
	msgEmptyBuildID                 = "Build ID is unknown."
	msgFilenameEmpty                = "Filename is null or empty."
	msgSourceFileReferenceNil       = "Source file reference is null."
)

func msgBuildIDMismatch(path string, expected, actual buildid.BuildID) string {
	return fmt.Sprintf("%s... Build ID does not match. Expected build ID '%s', file has build ID '%s'.", path, expected, actual)
}

func msgConnectionIsUnencrypted(host string) string {
	return fmt.Sprintf("Warning: The connection to '%s' is unencrypted. Use HTTPS instead of HTTP for a more secure connection.", host)
}

func msgCopiedFile(filename, path string) string {
	return fmt.Sprintf("Copied '%s' to '%s'.", filename, path)
}

func msgFailedToCopyToStructuredStore(path, filename, msg string) string {
	return fmt.Sprintf("Could not copy '%s' to symbol store '%s'. %s", filename, path, msg)
}

func msgFailedToCopyToSymbolServer(filename string) string {
	return fmt.Sprintf("Could not copy '%s' to any store in the symbol server.", filename)
}

func msgFailedToSearchFlatStore(path, filename, msg string) string {
	return fmt.Sprintf("Could not search directory '%s' for '%s'. %s", path, filename, msg)
}

func msgFailedToSearchHTTPStore(url, filename, msg string) string {
	return fmt.Sprintf("Could not search http symbol store '%s' for '%s'. %s", url, filename, msg)
}

func msgFailedToSearchDebuginfod(filename, msg string) string {
	return fmt.Sprintf("Could not search debuginfod for '%s'. %s", filename, msg)
}

func msgDoesNotExistInHTTPStore(filename, url string) string {
	return fmt.Sprintf("Symbol '%s' won't be searched in Http store '%s'. You can load it via `Modules->Load Symbols` if you believe that it exists in the store.", filename, url)
}

func msgFileAlreadyExists(dest string) string {
	return fmt.Sprintf("A file already exists at the destination path '%s'.", dest)
}

func msgFileNotFound(path string) string {
	return path + "... File not found."
}

func msgFileNotFoundInHTTPStore(url string, status int, reason string) string {
	return fmt.Sprintf("%s... File not found. Server returned HTTP status code %d (%s).", url, status, reason)
}

func msgFileFound(path string) string {
	return path + "... File found."
}

func msgUnsupportedSymbolServer(name string) string {
	return fmt.Sprintf("Unsupported symbol server '%s'. Emulating symbol servers other than symsrv.dll is not supported.", name)
}
