package elflink

import (
	"github.com/ZenLiuCN/fn"
	"testing"
)

func benchFixture(b *testing.B) *fixture {
	f := newFixture(b)
	f.add("libc.c32", library().Func("strlen").Import("puts"))
	f.add("hello.c32", program().Import("strlen").Import("printf").Needed("libc.c32"))
	return f
}

func BenchmarkLoad(b *testing.B) {
	f := benchFixture(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fn.Panic(f.env.LoadLibrary("libc.c32"))
		fn.Panic(f.env.UnloadLibrary("libc.c32"))
	}
}

func BenchmarkSpawn(b *testing.B) {
	f := benchFixture(b)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fn.Panic1(f.env.Spawnl("hello.c32", "hello.c32"))
		fn.Panic(f.env.UnloadLibrary("libc.c32"))
	}
}

func BenchmarkLookup(b *testing.B) {
	f := benchFixture(b)
	fn.Panic(f.env.LoadLibrary("libc.c32"))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, ok := f.env.Lookup("strlen"); !ok {
			b.Fatal("strlen not found")
		}
	}
}
