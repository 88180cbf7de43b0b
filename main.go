// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// radioftp moves files over lossy radio links with resumable segment transfers
package main

import "radioftp/cmd"

func main() {
	cmd.Execute()
}
