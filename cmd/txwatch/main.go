// txwatch holds wallet signing and transaction requests for human review.
package main

import "github.com/ppiankov/txwatch/internal/cli"

func main() {
	cli.Execute()
}
