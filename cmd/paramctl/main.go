// Command paramctl inspects and edits parameter store images.
package main

func main() {
	execute()
}
