package util

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
)

// MountInfo describes the filesystem holding a path
type MountInfo struct {
	MountPoint string
	FSType     string
	Shared     bool // network or FUSE remote filesystem
}

// Filesystem types on which SQLite locking and O_EXCL lock files are not
// reliable
var sharedFSTypes = []string{"nfs", "cifs", "smb", "smbfs", "smb3", "ncpfs", "afpfs", "webdav", "fuse.sshfs", "fuse.rclone", "9p"}

// DetectMount returns the mount holding path. On platforms without a mount
// table the result has an empty FSType and Shared is false.
func DetectMount(path string) (*MountInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	mounts, err := readMounts()
	if err != nil {
		return nil, err
	}
	return mountFor(abs, mounts), nil
}

// IsSharedFilesystem reports whether path lives on a network filesystem
func IsSharedFilesystem(path string) bool {
	info, err := DetectMount(path)
	if err != nil {
		return false
	}
	return info.Shared
}

// parseMounts reads a mount table in /proc/mounts format:
// device mountpoint fstype options dump pass
func parseMounts(r io.Reader) (map[string]string, error) {
	mounts := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		// Spaces in mount points are octal-escaped
		mountPoint := strings.ReplaceAll(fields[1], `\040`, " ")
		mounts[mountPoint] = fields[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mounts, nil
}

// mountFor picks the longest mount point containing path
func mountFor(path string, mounts map[string]string) *MountInfo {
	info := &MountInfo{}
	for mp, fsType := range mounts {
		if !within(path, mp) || len(mp) <= len(info.MountPoint) {
			continue
		}
		info.MountPoint = mp
		info.FSType = fsType
	}

	fs := strings.ToLower(info.FSType)
	for _, shared := range sharedFSTypes {
		if fs == shared || strings.HasPrefix(fs, shared+".") || strings.HasPrefix(fs, shared+"4") {
			info.Shared = true
			break
		}
	}
	return info
}

func within(path, mountPoint string) bool {
	if mountPoint == "/" || path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, strings.TrimSuffix(mountPoint, "/")+"/")
}
