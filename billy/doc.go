// Package billy adapts any go-billy filesystem into an envgo.Env.
//
// The adapter is useful wherever a billy filesystem already exists: tests
// on memfs, chrooted osfs sandboxes, or git worktrees. Locking is tracked
// per Env instance rather than delegated to the filesystem, because billy
// file locks block on contention while the Env contract requires failing
// fast.
//
//	env := billy.New(memfs.New())
//	w, _ := env.NewWritableFile("000001.log")
package billy
