// rdt compiles register description manifests into a resolved device
// description and typed accessors.
//
// Usage:
//
//	rdt build [-o out] [--format ir|go] [--pkg name] <manifest>
//	rdt check [files or directories...]
//	rdt fmt [-l] <file.rdl...>
//	rdt watch [-o out] <manifest>
//	rdt schema
//	rdt lsp
//	rdt init <name>
package main

func main() {
	Execute()
}
