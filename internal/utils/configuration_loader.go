package utils

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	environmentKeySeparatorConstant            = "_"
	configurationKeySeparatorConstant          = "."
	embeddedConfigurationReadErrorTemplate     = "unable to read embedded configuration: %w"
	configurationFileReadErrorTemplateConstant = "unable to read configuration file: %w"
	configurationDecodeErrorTemplateConstant   = "unable to decode configuration: %w"
	configurationTargetMissingMessageConstant  = "configuration target must be provided"
)

// ConfigurationMetadata reports details about the loaded configuration sources.
type ConfigurationMetadata struct {
	ConfigFileUsed string
}

// ConfigurationLoader merges embedded defaults, configuration files, and environment overrides.
type ConfigurationLoader struct {
	configurationName     string
	configurationType     string
	environmentPrefix     string
	searchPaths           []string
	embeddedConfiguration []byte
	embeddedType          string
}

// NewConfigurationLoader constructs a loader for the named configuration.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       append([]string(nil), searchPaths...),
	}
}

// SetEmbeddedConfiguration registers embedded default configuration content.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(content []byte, configurationType string) {
	loader.embeddedConfiguration = append([]byte(nil), content...)
	loader.embeddedType = configurationType
}

// LoadConfiguration resolves the effective configuration into the provided target struct.
// An explicit file path takes precedence over the registered search paths.
func (loader *ConfigurationLoader) LoadConfiguration(explicitConfigurationFilePath string, defaultValues map[string]any, configurationTarget any) (ConfigurationMetadata, error) {
	if configurationTarget == nil {
		return ConfigurationMetadata{}, errors.New(configurationTargetMissingMessageConstant)
	}

	viperInstance := viper.New()
	viperInstance.SetConfigName(loader.configurationName)
	viperInstance.SetConfigType(loader.configurationType)

	for defaultKey, defaultValue := range defaultValues {
		viperInstance.SetDefault(defaultKey, defaultValue)
	}

	if len(loader.embeddedConfiguration) > 0 {
		embeddedViper := viper.New()
		embeddedViper.SetConfigType(loader.embeddedType)
		if readError := embeddedViper.ReadConfig(bytes.NewReader(loader.embeddedConfiguration)); readError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(embeddedConfigurationReadErrorTemplate, readError)
		}
		if mergeError := viperInstance.MergeConfigMap(embeddedViper.AllSettings()); mergeError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(embeddedConfigurationReadErrorTemplate, mergeError)
		}
	}

	viperInstance.SetEnvPrefix(loader.environmentPrefix)
	viperInstance.SetEnvKeyReplacer(strings.NewReplacer(configurationKeySeparatorConstant, environmentKeySeparatorConstant))
	viperInstance.AutomaticEnv()

	metadata := ConfigurationMetadata{}

	trimmedExplicitPath := strings.TrimSpace(explicitConfigurationFilePath)
	if len(trimmedExplicitPath) > 0 {
		viperInstance.SetConfigFile(trimmedExplicitPath)
		if readError := viperInstance.MergeInConfig(); readError != nil {
			return ConfigurationMetadata{}, fmt.Errorf(configurationFileReadErrorTemplateConstant, readError)
		}
		metadata.ConfigFileUsed = viperInstance.ConfigFileUsed()
	} else {
		for _, searchPath := range loader.searchPaths {
			viperInstance.AddConfigPath(searchPath)
		}
		if readError := viperInstance.MergeInConfig(); readError != nil {
			var configurationNotFound viper.ConfigFileNotFoundError
			if !errors.As(readError, &configurationNotFound) {
				return ConfigurationMetadata{}, fmt.Errorf(configurationFileReadErrorTemplateConstant, readError)
			}
		} else {
			metadata.ConfigFileUsed = viperInstance.ConfigFileUsed()
		}
	}

	decoderConfiguration := &mapstructure.DecoderConfig{
		Result:           configurationTarget,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	}
	decoder, decoderError := mapstructure.NewDecoder(decoderConfiguration)
	if decoderError != nil {
		return ConfigurationMetadata{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, decoderError)
	}
	if decodeError := decoder.Decode(viperInstance.AllSettings()); decodeError != nil {
		return ConfigurationMetadata{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, decodeError)
	}

	return metadata, nil
}
