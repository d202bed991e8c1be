// Package cmd implements a simple CLI for the buildsys package
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rubberhead/serial-communicator/pkg/build/buildsys"
)

const cacheFileName = ".task-cache"

var RootCmd = &cobra.Command{
	Use:   "task [name=value]... [task]...",
	Short: "Runs tasks from the nearest tasks.star file",
	Long:  `This command parses the first tasks.star file it finds and executes the given tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		taskArgs := make([]string, 0)
		options := make(map[string]string)
		dryRun, err := cmd.Flags().GetBool("dry")
		if err != nil {
			return err
		}

		force, err := cmd.Flags().GetBool("force")
		if err != nil {
			return err
		}

		noCache, err := cmd.Flags().GetBool("no-cache")
		if err != nil {
			return err
		}

		for _, part := range args {
			pos := strings.Index(part, "=")
			if pos > -1 {
				options[part[:pos]] = part[pos+1:]
			} else {
				taskArgs = append(taskArgs, part)
			}
		}

		logger := zerolog.New(NewConsoleWriter())
		ctx := context.Background()
		ctx = buildsys.WithLogger(ctx, &logger)

		// search the next tasks.star file
		wd, err := os.Getwd()
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to retrieve the current working directory")
		}

		path := wd
		var taskPath string
		for {
			taskPath = filepath.Join(path, buildsys.TaskFileName)
			_, err := os.Stat(taskPath)
			if err == nil {
				break
			}
			if !eris.Is(err, os.ErrNotExist) {
				logger.Fatal().Err(err).Msgf("failed to check %s", taskPath)
			}

			parent := filepath.Dir(path)
			if parent == path {
				logger.Fatal().Msgf("no %s file found", buildsys.TaskFileName)
			}

			path = parent
		}

		taskPath, err = filepath.Rel(wd, taskPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to simplify path")
		}

		projectRoot := filepath.Dir(taskPath)
		taskList := loadTasks(ctx, &logger, taskPath, projectRoot, options, noCache)

		for _, name := range taskArgs {
			_, ok := taskList[name]
			if !ok {
				logger.Fatal().Msgf("task %s not found", name)
			}

			err = buildsys.RunTask(ctx, projectRoot, name, taskList, dryRun, force)
			if err != nil {
				logger.Fatal().Err(err).Msgf("failed task %s:", name)
			}
		}

		if len(taskArgs) == 0 {
			fmt.Println("Available tasks:")
			maxNameLen := 0
			sortedNames := make([]string, 0)
			for _, task := range taskList {
				nameLen := len(task.Short)
				if nameLen > maxNameLen {
					maxNameLen = nameLen
				}

				sortedNames = append(sortedNames, task.Short)
			}

			sort.Strings(sortedNames)

			lineFmt := fmt.Sprintf(" * %%-%ds %%s\n", maxNameLen+3)
			for _, name := range sortedNames {
				fmt.Printf(lineFmt, name+":", taskList[name].Desc)
			}
		}

		return nil
	},
}

// loadTasks returns the cached task list if the task file hasn't changed since
// the cache was written and the options match. Otherwise the task file is
// executed and the cache refreshed.
func loadTasks(ctx context.Context, logger *zerolog.Logger, taskPath, projectRoot string, options map[string]string, noCache bool) buildsys.TaskList {
	cachePath := filepath.Join(projectRoot, cacheFileName)

	if !noCache {
		taskInfo, err := os.Stat(taskPath)
		if err == nil {
			cacheInfo, err := os.Stat(cachePath)
			if err == nil && cacheInfo.ModTime().After(taskInfo.ModTime()) {
				cachedOptions, taskList, err := buildsys.ReadCache(cachePath)
				if err == nil && reflect.DeepEqual(cachedOptions, options) {
					return taskList
				}
			}
		}
	}

	taskList, err := buildsys.Parse(ctx, taskPath, projectRoot, options)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to parse tasks")
	}

	if !noCache {
		err = buildsys.WriteCache(cachePath, options, taskList)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to write the task cache")
		}
	}

	return taskList
}

func init() {
	RootCmd.Flags().BoolP("dry", "n", false, "dry run; only print the commands, don't execute anything")
	RootCmd.Flags().BoolP("force", "f", false, "force build; always execute the passed steps even if they don't have to run")
	RootCmd.Flags().Bool("no-cache", false, "ignore the task cache and always execute the task file")
}
