package config

import (
	"github.com/spf13/viper"

	"github.com/stefando/largeFileUpload/internal/logging"
)

func setupLogger() {
	logging.SetOutputFormat(viper.GetString(LoggingFormatKey))
	logging.SetOutputs(viper.GetStringSlice(LoggingOutputKey), viper.GetInt(LoggingFileMaxSizeMBKey), viper.GetInt(LoggingFilesKeepKey))
	logging.SetLevel(viper.GetString(LoggingLevelKey))
}
