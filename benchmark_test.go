package sitedeploy

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func benchmarkTree(files, size int) map[string]string {
	tree := make(map[string]string, files)
	content := strings.Repeat("x", size)
	for i := 0; i < files; i++ {
		tree[fmt.Sprintf("dir%02d/file%04d.html", i%10, i)] = content
	}
	return tree
}

func BenchmarkUpload(b *testing.B) {
	sizes := []struct {
		name  string
		files int
		size  int
	}{
		{"100x1KB", 100, 1024},
		{"10x1MB", 10, 1024 * 1024},
	}

	for _, s := range sizes {
		b.Run(s.name, func(b *testing.B) {
			local := createTestFileStructure(b, benchmarkTree(s.files, s.size))
			b.SetBytes(int64(s.files * s.size))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				mfs := newMemFS()
				d, _ := connectedDeployer(b, mfs, newTestConfig(local))
				if _, err := d.Upload(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkClean(b *testing.B) {
	for i := 0; i < b.N; i++ {
		b.StopTimer()
		mfs := newMemFS()
		for p := range benchmarkTree(500, 0) {
			mfs.addFile(b, testRemoteDir+"/"+p, "")
		}
		d, _ := connectedDeployer(b, mfs, newTestConfig(b.TempDir()))
		b.StartTimer()

		if _, err := d.Clean(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkShouldExclude(b *testing.B) {
	patterns := []string{"*.map", "node_modules", ".DS_Store", "assets/*.tmp"}
	for i := 0; i < b.N; i++ {
		shouldExclude("assets/js/vendor/app.bundle.js", patterns)
	}
}
