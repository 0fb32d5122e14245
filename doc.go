// Package sitedeploy publishes a static site build to a web root over SSH/SFTP.
//
// A deployment runs over a single session and has four phases:
//   - Connect to the server with a password or private key
//   - Clean the remote directory, keeping hidden entries such as .htaccess
//   - Upload the local build directory tree, replacing existing files
//   - List the remote directory for confirmation
//
// # Basic Usage
//
//	config, err := sitedeploy.LoadConfig("deploy.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	deployer, err := sitedeploy.NewDeployer(config)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	report, err := deployer.Run(ctx)
//
// # Host Keys
//
// Host keys are checked against ~/.ssh/known_hosts by default. Set
// HostKeyPolicy to HostKeyAcceptNew to trust and record unknown hosts on
// first use, or HostKeyInsecure to skip verification.
//
// # Step by Step
//
// The phases can also be driven individually:
//
//	if err := deployer.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer deployer.Close()
//
//	clean, err := deployer.Clean(ctx)
//	upload, err := deployer.Upload(ctx)
//	names, err := deployer.List(ctx)
package sitedeploy
