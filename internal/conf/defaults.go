// conf/defaults.go default values for settings
package conf

import (
	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "ConeScan-Go")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "conescan.log")
	viper.SetDefault("main.log.rotation", RotationDaily)
	viper.SetDefault("main.log.maxsize", 1048576)

	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "3002")
	viper.SetDefault("webserver.debug", false)
	viper.SetDefault("webserver.frontendurl", "")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "conescan.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "conescan")
	viper.SetDefault("output.mysql.password", "conescan")
	viper.SetDefault("output.mysql.database", "conescan")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("upload.dir", "uploads/")
	viper.SetDefault("upload.referencesdir", "uploads/references")
	viper.SetDefault("upload.maxfilesize", 10*1024*1024)
	viper.SetDefault("upload.maxbatchsize", 100)
	viper.SetDefault("upload.allowedtypes", []string{"image/jpeg", "image/png"})

	viper.SetDefault("inference.serviceurl", "http://localhost:5001")
	viper.SetDefault("inference.timeout", 3000)
	viper.SetDefault("inference.confidencethreshold", 0.3)
	viper.SetDefault("inference.modelversion", "v1.0.0")

	viper.SetDefault("camera.cropwidth", 180)
	viper.SetDefault("camera.cropheight", 180)
	viper.SetDefault("camera.mincropwidth", 64)
	viper.SetDefault("camera.mincropheight", 64)
	viper.SetDefault("camera.maxcropwidth", 2048)
	viper.SetDefault("camera.maxcropheight", 2048)
	viper.SetDefault("camera.idealwidth", 640)
	viper.SetDefault("camera.idealheight", 480)
	viper.SetDefault("camera.readinesstimeout", 6000)
	viper.SetDefault("camera.snapshotinterval", 33)
	viper.SetDefault("camera.jpegquality", 95)

	viper.SetDefault("security.sessionsecret", "")
	viper.SetDefault("security.sessionttl", 24)
}
