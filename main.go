// SPDX-License-Identifier: MPL-2.0

package main

import cmd "firstboot-cli/cmd/firstboot"

func main() {
	cmd.Execute()
}
