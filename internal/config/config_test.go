package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var managedEnv = []string{
	"OPENAI_API_KEY",
	"OPENAI_BASE_URL",
	"OPENAI_MODEL",
	"OPENAI_TEMPERATURE",
	"MAX_TOKENS",
	"PROMPT_FILE",
	"REQUEST_TIMEOUT",
	"STREAM",
	"CONTEXT_MESSAGE_LIMIT",
	"CONTEXT_TTL",
	"BOT_TITLE",
	"TELEGRAM_BOT_TOKEN",
	"TELEGRAM_CHAT_ID",
	"ADMIN_USER_IDS",
	"ALLOWED_TELEGRAM_USER_IDS",
}

type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (suite *ConfigTestSuite) SetupTest() {
	// t.Setenv restores the previous value on cleanup, unsetting afterwards
	// gives every test an empty environment for the managed keys.
	for _, key := range managedEnv {
		suite.T().Setenv(key, "")
		require.NoError(suite.T(), os.Unsetenv(key))
	}
	suite.tempDir = suite.T().TempDir()
}

func (suite *ConfigTestSuite) missingConfigPath() string {
	return filepath.Join(suite.tempDir, "missing.yaml")
}

func (suite *ConfigTestSuite) writeFile(name, content string) string {
	path := filepath.Join(suite.tempDir, name)
	require.NoError(suite.T(), os.WriteFile(path, []byte(content), 0o600))
	return path
}

func (suite *ConfigTestSuite) TestDefaults() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	cfg, err := Load(viper.New(), cfgFile, "")
	require.NoError(suite.T(), err)

	suite.Equal("sk-test", cfg.OpenAIKey)
	suite.Equal("gpt-4o-mini", cfg.Model)
	suite.InDelta(0.7, cfg.Temperature, 0.0001)
	suite.Equal("prompt.txt", cfg.PromptFile)
	suite.Equal(60*time.Second, cfg.RequestTimeout)
	suite.Equal("AeroVista CIO Bot", cfg.Title)
	suite.False(cfg.Stream)
	suite.Zero(cfg.ContextLimit)
	suite.Zero(cfg.ContextTTL)
	suite.Zero(cfg.MaxCompletionTokens)
}

func (suite *ConfigTestSuite) TestMissingAPIKey() {
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	cfg, err := Load(viper.New(), cfgFile, "")
	suite.ErrorIs(err, ErrMissingAPIKey)
	suite.Equal("gpt-4o-mini", cfg.Model)
}

func (suite *ConfigTestSuite) TestWhitespaceAPIKeyIsMissing() {
	suite.T().Setenv("OPENAI_API_KEY", "   ")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	_, err := Load(viper.New(), cfgFile, "")
	suite.ErrorIs(err, ErrMissingAPIKey)
}

func (suite *ConfigTestSuite) TestEnvironmentOverrides() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	suite.T().Setenv("OPENAI_MODEL", "gpt-4.1")
	suite.T().Setenv("REQUEST_TIMEOUT", "5s")
	suite.T().Setenv("CONTEXT_MESSAGE_LIMIT", "12")
	suite.T().Setenv("ADMIN_USER_IDS", "1, 2,bogus,,3")
	suite.T().Setenv("TELEGRAM_CHAT_ID", "-100200")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	cfg, err := Load(viper.New(), cfgFile, "")
	require.NoError(suite.T(), err)

	suite.Equal("gpt-4.1", cfg.Model)
	suite.Equal(5*time.Second, cfg.RequestTimeout)
	suite.Equal(12, cfg.ContextLimit)
	suite.Equal([]int64{1, 2, 3}, cfg.AdminUserIDs)
	suite.Nil(cfg.AllowedUserIDs)
	suite.Equal(int64(-100200), cfg.TelegramChatID)
}

func (suite *ConfigTestSuite) TestConfigFileValues() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	cfgFile := suite.writeFile("cio-bot.yaml", "openai_model: gpt-4o\nbot_title: Test Bot\nstream: true\n")

	cfg, err := Load(viper.New(), cfgFile, "")
	require.NoError(suite.T(), err)

	suite.Equal("gpt-4o", cfg.Model)
	suite.Equal("Test Bot", cfg.Title)
	suite.True(cfg.Stream)
}

func (suite *ConfigTestSuite) TestEnvBeatsConfigFile() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	suite.T().Setenv("OPENAI_MODEL", "from-env")
	cfgFile := suite.writeFile("cio-bot.yaml", "openai_model: from-file\n")

	cfg, err := Load(viper.New(), cfgFile, "")
	require.NoError(suite.T(), err)
	suite.Equal("from-env", cfg.Model)
}

func (suite *ConfigTestSuite) TestDotEnvFile() {
	envFile := suite.writeFile(".env", "# comment\nOPENAI_API_KEY=sk-from-dotenv\nexport BOT_TITLE=\"Dotenv Bot\"\n")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	cfg, err := Load(viper.New(), cfgFile, envFile)
	require.NoError(suite.T(), err)

	suite.Equal("sk-from-dotenv", cfg.OpenAIKey)
	suite.Equal("Dotenv Bot", cfg.Title)
}

func (suite *ConfigTestSuite) TestDotEnvDoesNotOverrideEnvironment() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	suite.T().Setenv("OPENAI_MODEL", "from-env")
	envFile := suite.writeFile(".env", "OPENAI_MODEL=from-dotenv\n")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	cfg, err := Load(viper.New(), cfgFile, envFile)
	require.NoError(suite.T(), err)
	suite.Equal("from-env", cfg.Model)
}

func (suite *ConfigTestSuite) TestMissingDotEnvIsNotFatal() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")
	cfgFile := suite.writeFile("empty.yaml", "{}\n")

	_, err := Load(viper.New(), cfgFile, filepath.Join(suite.tempDir, "nope.env"))
	suite.NoError(err)
}

func (suite *ConfigTestSuite) TestExplicitConfigFileMustExist() {
	suite.T().Setenv("OPENAI_API_KEY", "sk-test")

	_, err := Load(viper.New(), suite.missingConfigPath(), "")
	suite.Error(err)
	suite.NotErrorIs(err, ErrMissingAPIKey)
}

func (suite *ConfigTestSuite) TestRequireTelegram() {
	suite.ErrorIs(Config{}.RequireTelegram(), ErrMissingTelegramToken)
	suite.NoError(Config{TelegramToken: "123:abc"}.RequireTelegram())
}

func TestParseIDs(t *testing.T) {
	require.Nil(t, parseIDs("  "))
	require.Equal(t, []int64{42}, parseIDs("42"))
	require.Equal(t, []int64{1, -5}, parseIDs("1,x,-5"))
}
