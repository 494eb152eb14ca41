package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestIsMountPointFromMountInfo(t *testing.T) {
	tmp := t.TempDir()
	mountInfo := filepath.Join(tmp, "mountinfo")
	data := []byte(`36 25 0:32 / /home/bob/mnt/studio rw,relatime - fuse.sshfs alice@studio:/srv rw
37 25 0:33 / /home/bob/mnt/studio\040with\040space rw,relatime - fuse.sshfs sshfs#host:/ rw
`)
	if err := os.WriteFile(mountInfo, data, 0644); err != nil {
		t.Fatalf("write mountinfo: %v", err)
	}

	orig := mountInfoPath
	mountInfoPath = mountInfo
	t.Cleanup(func() { mountInfoPath = orig })

	tests := []struct {
		path string
		want bool
	}{
		{"/home/bob/mnt/studio", true},
		{"/home/bob/mnt/studio with space", true},
		{"/home/bob/mnt/other", false},
	}

	for _, tc := range tests {
		got, err := isMountPointFromMountInfo(tc.path)
		if err != nil {
			t.Fatalf("isMountPointFromMountInfo error for %q: %v", tc.path, err)
		}
		if got != tc.want {
			t.Fatalf("isMountPointFromMountInfo(%q)=%v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestIsMountPointUsesMountInfo(t *testing.T) {
	tmp := t.TempDir()
	mountInfo := filepath.Join(tmp, "mountinfo")
	data := []byte(`36 25 0:32 / /mnt/test rw,relatime - fuse.sshfs sshfs#host:/ rw
`)
	if err := os.WriteFile(mountInfo, data, 0644); err != nil {
		t.Fatalf("write mountinfo: %v", err)
	}

	orig := mountInfoPath
	mountInfoPath = mountInfo
	t.Cleanup(func() { mountInfoPath = orig })

	got, err := IsMountPoint("/mnt/test")
	if err != nil {
		t.Fatalf("IsMountPoint error: %v", err)
	}
	if !got {
		t.Fatalf("IsMountPoint should return true when mountinfo contains the path")
	}
}

func TestParseMountInfo(t *testing.T) {
	data := []byte(`22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw
36 22 0:32 / /home/bob/mnt/studio rw,nosuid,nodev,relatime shared:40 - fuse.sshfs alice@studio:/Users/alice rw,user_id=1000,group_id=1000

garbage
`)
	mps := ParseMountInfo(data)
	if len(mps) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(mps), mps)
	}
	got := mps[1]
	if got.Path != "/home/bob/mnt/studio" || got.FSType != "fuse.sshfs" || got.Source != "alice@studio:/Users/alice" {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if !got.IsSSHFS() || mps[0].IsSSHFS() {
		t.Fatalf("IsSSHFS misclassified entries: %+v", mps)
	}
	if len(got.Options) != 4 || got.Options[0] != "rw" {
		t.Fatalf("unexpected options: %v", got.Options)
	}
}

func TestParseMountOutput(t *testing.T) {
	out := `/dev/disk3s1s1 on / (apfs, sealed, local, read-only, journaled)
alice@studio.local:/Users/alice/Projects on /Users/bob/mnt/studio (macfuse, nodev, nosuid, synchronous, mounted by bob)
alice@studio:/srv on /mnt/with space type fuse.sshfs (rw,nosuid,nodev,relatime,user_id=1000)
not a mount line
`
	mps := ParseMountOutput(out)
	if len(mps) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(mps), mps)
	}

	darwin := mps[1]
	if darwin.Source != "alice@studio.local:/Users/alice/Projects" || darwin.Path != "/Users/bob/mnt/studio" || darwin.FSType != "macfuse" {
		t.Fatalf("unexpected darwin entry: %+v", darwin)
	}
	if len(darwin.Options) != 4 || darwin.Options[3] != "mounted by bob" {
		t.Fatalf("unexpected darwin options: %q", darwin.Options)
	}

	linux := mps[2]
	if linux.Path != "/mnt/with space" || linux.FSType != "fuse.sshfs" || linux.Options[0] != "rw" {
		t.Fatalf("unexpected linux entry: %+v", linux)
	}
}

func TestFilterAndFind(t *testing.T) {
	mps := []MountPoint{
		{Source: "/dev/sda1", Path: "/"},
		{Source: "alice@studio:/srv", Path: "/mnt/studio"},
		{Source: "alice@lab:/data", Path: "/mnt/lab"},
	}

	if got := Filter(mps, ""); len(got) != 3 {
		t.Fatalf("empty pattern should keep all entries, got %d", len(got))
	}
	if got := Filter(mps, "studio"); len(got) != 1 || got[0].Path != "/mnt/studio" {
		t.Fatalf("Filter(studio) = %+v", got)
	}
	if got := Filter(mps, "alice@"); len(got) != 2 {
		t.Fatalf("Filter should match sources, got %+v", got)
	}

	if mp, ok := Find(mps, "/mnt/lab/"); !ok || mp.Source != "alice@lab:/data" {
		t.Fatalf("Find(/mnt/lab/) = %+v, %v", mp, ok)
	}
	if _, ok := Find(mps, "/mnt"); ok {
		t.Fatalf("Find should not match a parent directory")
	}
}
