package snapshot

import "testing"

func TestParseSnapshotBackupURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *URL
	}{
		{"file", "file:///var/lib/swimkv/backup", &URL{Type: FileType, Path: "/var/lib/swimkv/backup"}},
		{"s3 bucket only", "s3://my-bucket", &URL{Type: S3Type, Bucket: "my-bucket", Path: DefaultSnapshotKey}},
		{"s3 bucket and key", "s3://my-bucket/backups/node-1.snapshot", &URL{Type: S3Type, Bucket: "my-bucket", Path: "backups/node-1.snapshot"}},
		{"spaces", "https://nyc3.digitaloceanspaces.com/my-space/node-1.snapshot", &URL{Type: SpacesType, Host: "nyc3.digitaloceanspaces.com", Bucket: "my-space", Path: "node-1.snapshot"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseSnapshotBackupURL(tt.in)
			if err != nil {
				t.Fatal(err)
			}
			if *got != *tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseSnapshotBackupURLRejectsUnknownScheme(t *testing.T) {
	if _, err := ParseSnapshotBackupURL("ftp://somewhere"); err == nil {
		t.Fatal("expected an error for an unsupported scheme")
	}
}
