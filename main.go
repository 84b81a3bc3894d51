/*
Copyright © 2022 FairwindsOps Inc
*/
package main

import "github.com/fairwindsops/insights-plugins/plugins/kube-checker/cmd"

func main() {
	cmd.Execute()
}
