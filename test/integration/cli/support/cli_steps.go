package support

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/rekap/cmd/rekap/cmd"
)

// iRunRekapWith executes the root command in-process with the given arguments.
func (testCtx *TestContext) iRunRekapWith(args string) error {
	fields := strings.Fields(testCtx.expand(args))
	testCtx.LastCommand = "rekap " + strings.Join(fields, " ")

	root := cmd.GetRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(fields)
	defer root.SetArgs(nil)

	testCtx.LastError = root.Execute()
	testCtx.LastOutput = out.String()
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\noutput:\n%s", testCtx.LastCommand, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFailWith(fragment string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command %q succeeded, expected failure", testCtx.LastCommand)
	}
	if !strings.Contains(testCtx.LastError.Error(), fragment) {
		return fmt.Errorf("error %q does not contain %q", testCtx.LastError, fragment)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(fragment string) error {
	if !strings.Contains(testCtx.LastOutput, testCtx.expand(fragment)) {
		return fmt.Errorf("output does not contain %q:\n%s", fragment, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(fragment string) error {
	if strings.Contains(testCtx.LastOutput, fragment) {
		return fmt.Errorf("output unexpectedly contains %q", fragment)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.TempPath(name)); err != nil {
		return fmt.Errorf("expected file %s: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSet(name, value string) error {
	return testCtx.SetEnv(name, value)
}

// RegisterCLISteps registers the command execution steps.
func (testCtx *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run rekap with "([^"]*)"$`, testCtx.iRunRekapWith)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail with "([^"]*)"$`, testCtx.theCommandShouldFailWith)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the environment variable "([^"]*)" is "([^"]*)"$`, testCtx.theEnvironmentVariableIsSet)
}
