/*
Itchdl mirrors games from itch.io into a local directory or an S3 bucket.

The input is a single URL or a path to a local file:

  - a game jam page, https://itch.io/jam/<slug>
  - a browse page such as https://itch.io/games/free/tag-rpg
  - a collection, https://itch.io/c/<id>/<slug>
  - a creator profile, https://<user>.itch.io or https://itch.io/profile/<user>
  - the library of the API key owner, https://itch.io/my-purchases
  - a single game page, https://<user>.itch.io/<game>
  - a jam entries JSON file, or a text file with one game URL per line

Each input is expanded into a list of games. Metadata of every game is fetched
before any file is downloaded, then files are downloaded by a bounded worker
pool. The run ends with a report on stdout listing titles that failed and
off-site downloads that have to be fetched by hand.

# Layout

Files are stored per game:

	<author>/<game>/files/<upload filename>
	<author>/<game>/index.html      (with -save-page)
	<author>/<game>/metadata.json

A file whose stored size already matches the upload is not downloaded again,
so an interrupted run can be repeated.

# Configuration

Settings are layered, lowest precedence first: built-in defaults,
<user config dir>/itch-dl/config.json, the -profile file under profiles/,
.env files, environment variables (ITCHDL_API_KEY, ITCHDL_PARALLEL, ...) and
command line flags.

Exit status is 0 when every title was downloaded in full or only has external
downloads, 1 when some titles failed or were skipped, and 2 when the input
could not be resolved or the run could not start.
*/
package main
